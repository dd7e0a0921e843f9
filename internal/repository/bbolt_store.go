package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/wenwu/saas-platform/access-service/internal/models"
	"go.etcd.io/bbolt"
)

const (
	bucketServers  = "servers"
	bucketPlans    = "plans"
	bucketRequests = "purchase_requests"
	bucketGrants   = "grants"
	bucketLogs     = "action_logs"
)

var allBuckets = []string{bucketServers, bucketPlans, bucketRequests, bucketGrants, bucketLogs}

// BBoltStore is the Store backed by a single bbolt file, for single-host deployments.
// Grants keep their server details denormalized since there is no join on read.
type BBoltStore struct {
	db *bbolt.DB
}

func OpenBBolt(path string) (*BBoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	st := &BBoltStore{db: db}
	if err := st.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *BBoltStore) Close() { _ = s.db.Close() }

// ==================== Catalog ====================

func (s *BBoltStore) ListServers(ctx context.Context) ([]models.ServerNode, error) {
	var out []models.ServerNode
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketServers)).ForEach(func(_, v []byte) error {
			var srv models.ServerNode
			if err := json.Unmarshal(v, &srv); err != nil {
				return err
			}
			out = append(out, srv)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	return out, nil
}

func (s *BBoltStore) ListPlans(ctx context.Context) ([]models.Plan, error) {
	var out []models.Plan
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketPlans)).ForEach(func(_, v []byte) error {
			var p models.Plan
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return out, nil
}

func (s *BBoltStore) PutServer(ctx context.Context, srv models.ServerNode) error {
	return s.put(bucketServers, itob(srv.ID), srv)
}

func (s *BBoltStore) PutPlan(ctx context.Context, p models.Plan) error {
	return s.put(bucketPlans, itob(p.ID), p)
}

// ==================== Purchase requests ====================

// CreateRequest runs the quota checks and the insert in one write transaction.
// bbolt allows a single writer at a time, which makes the pair atomic.
func (s *BBoltStore) CreateRequest(ctx context.Context, req *models.PurchaseRequest, maxLive int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRequests))
		if b.Get([]byte(req.RequestID)) != nil {
			return fmt.Errorf("insert purchase_request: duplicate request_id %s", req.RequestID)
		}
		if maxLive > 0 {
			if err := boltRequestQuota(tx, req, maxLive); err != nil {
				return err
			}
		}
		buf, err := json.Marshal(req)
		if err != nil {
			return err
		}
		return b.Put([]byte(req.RequestID), buf)
	})
}

func boltRequestQuota(tx *bbolt.Tx, req *models.PurchaseRequest, maxLive int) error {
	live, pending, granted := 0, false, false

	err := tx.Bucket([]byte(bucketRequests)).ForEach(func(_, v []byte) error {
		var other models.PurchaseRequest
		if err := json.Unmarshal(v, &other); err != nil {
			return err
		}
		if other.RequesterID == req.RequesterID {
			live++
			pending = pending || other.ServerID == req.ServerID
		}
		return nil
	})
	if err != nil {
		return err
	}
	err = tx.Bucket([]byte(bucketGrants)).ForEach(func(_, v []byte) error {
		var g models.Grant
		if err := json.Unmarshal(v, &g); err != nil {
			return err
		}
		granted = granted || (g.RequesterID == req.RequesterID && g.ServerID == req.ServerID)
		return nil
	})
	if err != nil {
		return err
	}

	switch {
	case live >= maxLive:
		return ErrQuotaReached
	case pending:
		return ErrRequestPending
	case granted:
		return ErrServerGranted
	}
	return nil
}

func (s *BBoltStore) FindRequest(ctx context.Context, requestID string) (*models.PurchaseRequest, error) {
	var req *models.PurchaseRequest
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		req, err = getRequest(tx, requestID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (s *BBoltStore) DeleteRequest(ctx context.Context, requestID string) (*models.PurchaseRequest, error) {
	var req *models.PurchaseRequest
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		req, err = getRequest(tx, requestID)
		if err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketRequests)).Delete([]byte(requestID))
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (s *BBoltStore) CountRequestsByRequester(ctx context.Context, requesterID int64) (int, error) {
	n := 0
	err := s.forEachRequest(func(req *models.PurchaseRequest) {
		if req.RequesterID == requesterID {
			n++
		}
	})
	return n, err
}

func (s *BBoltStore) DeleteRequestsOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	var deleted int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRequests))
		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var req models.PurchaseRequest
			if err := json.Unmarshal(v, &req); err != nil {
				return err
			}
			if req.CreatedAt.Before(threshold) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		// bbolt forbids mutating a bucket while iterating it
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete stale purchase_requests: %w", err)
	}
	return deleted, nil
}

// ==================== Grants ====================

func (s *BBoltStore) CreateGrant(ctx context.Context, grant *models.Grant) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketGrants))
		if b.Get([]byte(grant.CredentialID)) != nil {
			return fmt.Errorf("insert grant: duplicate credential_id %s", grant.CredentialID)
		}
		buf, err := json.Marshal(grant)
		if err != nil {
			return err
		}
		return b.Put([]byte(grant.CredentialID), buf)
	})
}

func (s *BBoltStore) FindGrant(ctx context.Context, requesterID int64, credentialID string) (*models.Grant, error) {
	var g *models.Grant
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketGrants)).Get([]byte(credentialID))
		if v == nil {
			return ErrNotFound
		}
		g = &models.Grant{}
		return json.Unmarshal(v, g)
	})
	if err != nil {
		return nil, err
	}
	if g.RequesterID != requesterID {
		return nil, ErrNotFound
	}
	return g, nil
}

func (s *BBoltStore) ListGrantsByRequester(ctx context.Context, requesterID int64) ([]*models.Grant, error) {
	grants, err := s.filterGrants(func(g *models.Grant) bool { return g.RequesterID == requesterID })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(grants, func(i, j int) bool {
		return grants[i].ValidUntil.Before(grants[j].ValidUntil)
	})
	return grants, nil
}

// ListExpiredGrants returns expired grants in key (credential id) order
func (s *BBoltStore) ListExpiredGrants(ctx context.Context, now time.Time) ([]*models.Grant, error) {
	return s.filterGrants(func(g *models.Grant) bool { return g.Expired(now) })
}

func (s *BBoltStore) DeleteGrant(ctx context.Context, credentialID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketGrants))
		if b.Get([]byte(credentialID)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(credentialID))
	})
}

// ==================== Action logs ====================

func (s *BBoltStore) LogAction(ctx context.Context, credentialID, action, status, message string, metadata map[string]interface{}) error {
	entry := models.ActionLog{
		ID:           uuid.New().String(),
		CredentialID: credentialID,
		Action:       action,
		Status:       status,
		Message:      message,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketLogs))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		buf, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(u64tob(seq), buf)
	})
}

func (s *BBoltStore) ListLogs(ctx context.Context, credentialID string, limit int) ([]*models.ActionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*models.ActionLog
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketLogs)).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var entry models.ActionLog
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.CredentialID == credentialID {
				out = append(out, &entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list action logs: %w", err)
	}
	return out, nil
}

// ==================== helpers ====================

func (s *BBoltStore) put(bucket string, key []byte, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put(key, buf)
	})
}

func (s *BBoltStore) forEachRequest(fn func(req *models.PurchaseRequest)) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketRequests)).ForEach(func(_, v []byte) error {
			var req models.PurchaseRequest
			if err := json.Unmarshal(v, &req); err != nil {
				return err
			}
			fn(&req)
			return nil
		})
	})
}

func (s *BBoltStore) filterGrants(keep func(g *models.Grant) bool) ([]*models.Grant, error) {
	var out []*models.Grant
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketGrants)).ForEach(func(_, v []byte) error {
			g := &models.Grant{}
			if err := json.Unmarshal(v, g); err != nil {
				return err
			}
			if keep(g) {
				out = append(out, g)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("scan grants: %w", err)
	}
	return out, nil
}

func getRequest(tx *bbolt.Tx, requestID string) (*models.PurchaseRequest, error) {
	v := tx.Bucket([]byte(bucketRequests)).Get([]byte(requestID))
	if v == nil {
		return nil, ErrNotFound
	}
	req := &models.PurchaseRequest{}
	if err := json.Unmarshal(v, req); err != nil {
		return nil, err
	}
	return req, nil
}

// itob encodes ids big-endian so bbolt iterates them in numeric order
func itob(v int) []byte {
	return u64tob(uint64(v))
}

func u64tob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

var _ Store = (*BBoltStore)(nil)
