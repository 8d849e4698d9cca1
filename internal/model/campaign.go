package model

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"gowa-blast/internal/blast"
	"gowa-blast/internal/store"
)

var ErrCampaignNotFound = errors.New("campaign not found")

// Recipient cache outlives the daily refresh by an hour of slack.
const campaignCacheTTL = 25 * time.Hour

type Campaign struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CampaignRepo reads campaigns from the app DB with a store-backed recipient
// cache in front.
type CampaignRepo struct {
	db    *sql.DB
	store store.Store
}

func NewCampaignRepo(db *sql.DB, st store.Store) (*CampaignRepo, error) {
	schema := `
        CREATE TABLE IF NOT EXISTS campaigns (
            id   VARCHAR(255) PRIMARY KEY,
            name VARCHAR(255) NOT NULL
        );

        CREATE TABLE IF NOT EXISTS campaign_recipients (
            campaign_id VARCHAR(255) NOT NULL REFERENCES campaigns(id),
            phone       VARCHAR(50) NOT NULL,
            name        VARCHAR(255) NOT NULL DEFAULT '',
            PRIMARY KEY (campaign_id, phone)
        );
    `
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	repo := &CampaignRepo{db: db, store: st}
	if err := repo.seedIfEmpty(); err != nil {
		return nil, err
	}
	return repo, nil
}

// seedIfEmpty loads the demo campaigns on a fresh database.
func (r *CampaignRepo) seedIfEmpty() error {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM campaigns`).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	seed := map[Campaign][]blast.Recipient{
		{ID: "october-promo", Name: "October Promo"}: {
			{Name: "Alice", Phone: "1234567890"},
			{Name: "Bob", Phone: "0987654321"},
			{Name: "Charlie", Phone: "1122334455"},
		},
		{ID: "new-user-welcome", Name: "New User Welcome"}: {
			{Name: "David", Phone: "5544332211"},
		},
	}

	for campaign, recipients := range seed {
		if _, err := r.db.Exec(`INSERT INTO campaigns (id, name) VALUES ($1, $2)`, campaign.ID, campaign.Name); err != nil {
			return err
		}
		for _, recipient := range recipients {
			_, err := r.db.Exec(`
                INSERT INTO campaign_recipients (campaign_id, phone, name) VALUES ($1, $2, $3)
            `, campaign.ID, recipient.Phone, recipient.Name)
			if err != nil {
				return err
			}
		}
	}
	log.Println("model: seeded demo campaigns")
	return nil
}

func (r *CampaignRepo) Campaigns(ctx context.Context) ([]Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM campaigns ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []Campaign
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// Recipients serves from the cache when warm, otherwise queries the DB and
// re-primes the cache.
func (r *CampaignRepo) Recipients(ctx context.Context, campaignID string) ([]blast.Recipient, error) {
	cacheKey := store.CampaignRecipientsKey(campaignID)
	if cached, err := r.store.Get(ctx, cacheKey); err == nil {
		var recipients []blast.Recipient
		if err := json.Unmarshal([]byte(cached), &recipients); err == nil {
			return recipients, nil
		}
	}

	recipients, err := r.recipientsFromDB(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(recipients); err == nil {
		if err := r.store.Set(ctx, cacheKey, string(encoded), campaignCacheTTL); err != nil {
			log.Printf("model: failed to cache recipients for %s: %v", campaignID, err)
		}
	}
	return recipients, nil
}

func (r *CampaignRepo) recipientsFromDB(ctx context.Context, campaignID string) ([]blast.Recipient, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns WHERE id = $1`, campaignID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCampaignNotFound, campaignID)
	}

	rows, err := r.db.QueryContext(ctx, `
        SELECT phone, name FROM campaign_recipients WHERE campaign_id = $1
    `, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []blast.Recipient
	for rows.Next() {
		var recipient blast.Recipient
		if err := rows.Scan(&recipient.Phone, &recipient.Name); err != nil {
			return nil, err
		}
		recipients = append(recipients, recipient)
	}
	return recipients, rows.Err()
}

// refreshCache re-primes the recipient cache for every campaign.
func (r *CampaignRepo) refreshCache(ctx context.Context) {
	campaigns, err := r.Campaigns(ctx)
	if err != nil {
		log.Printf("model: failed to list campaigns for cache refresh: %v", err)
		return
	}
	for _, campaign := range campaigns {
		recipients, err := r.recipientsFromDB(ctx, campaign.ID)
		if err != nil {
			log.Printf("model: failed to refresh recipients for %s: %v", campaign.ID, err)
			continue
		}
		encoded, err := json.Marshal(recipients)
		if err != nil {
			continue
		}
		if err := r.store.Set(ctx, store.CampaignRecipientsKey(campaign.ID), string(encoded), campaignCacheTTL); err != nil {
			log.Printf("model: failed to cache recipients for %s: %v", campaign.ID, err)
			continue
		}
		log.Printf("model: cached %d recipients for campaign %s", len(recipients), campaign.ID)
	}
}

// StartCacheRefresher primes the recipient cache now and again every day at
// 02:00. The returned cron is already running.
func (r *CampaignRepo) StartCacheRefresher(ctx context.Context) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc("0 2 * * *", func() {
		log.Println("model: running scheduled campaign cache refresh")
		r.refreshCache(ctx)
	})
	if err != nil {
		return nil, err
	}

	r.refreshCache(ctx)
	c.Start()
	log.Println("model: campaign cache refresher started")
	return c, nil
}
