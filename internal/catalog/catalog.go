package catalog

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/wenwu/saas-platform/access-service/internal/models"
	"github.com/wenwu/saas-platform/access-service/internal/repository"
	"gopkg.in/yaml.v3"
)

// Catalog is the read-only set of servers and plans, built once at start-up
type Catalog struct {
	servers   []models.ServerNode
	plans     []models.Plan
	serverIdx map[int]models.ServerNode
	planIdx   map[int]models.Plan
}

// New builds a catalog from the given rows
func New(servers []models.ServerNode, plans []models.Plan) *Catalog {
	c := &Catalog{
		servers:   append([]models.ServerNode(nil), servers...),
		plans:     append([]models.Plan(nil), plans...),
		serverIdx: make(map[int]models.ServerNode, len(servers)),
		planIdx:   make(map[int]models.Plan, len(plans)),
	}
	for _, s := range servers {
		c.serverIdx[s.ID] = s
	}
	for _, p := range plans {
		c.planIdx[p.ID] = p
	}
	return c
}

// Load reads servers and plans from the store
func Load(ctx context.Context, store repository.Store) (*Catalog, error) {
	servers, err := store.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load servers: %w", err)
	}
	plans, err := store.ListPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}
	log.Printf("[Catalog] Loaded %d servers and %d plans", len(servers), len(plans))
	return New(servers, plans), nil
}

func (c *Catalog) Server(id int) (models.ServerNode, bool) {
	s, ok := c.serverIdx[id]
	return s, ok
}

func (c *Catalog) Plan(id int) (models.Plan, bool) {
	p, ok := c.planIdx[id]
	return p, ok
}

// Servers returns a copy of all servers in id order
func (c *Catalog) Servers() []models.ServerNode {
	return append([]models.ServerNode(nil), c.servers...)
}

// Plans returns a copy of all plans in id order
func (c *Catalog) Plans() []models.Plan {
	return append([]models.Plan(nil), c.plans...)
}

// SeedFile is the YAML layout of CATALOG_FILE
type SeedFile struct {
	Servers []models.ServerNode `yaml:"servers"`
	Plans   []models.Plan       `yaml:"plans"`
}

// ReadSeedFile parses a catalog seed file
func ReadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}
	if err := seed.validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

func (s *SeedFile) validate() error {
	seen := make(map[int]bool)
	for _, srv := range s.Servers {
		if srv.ID <= 0 || srv.Address == "" {
			return fmt.Errorf("catalog server %d: id and address are required", srv.ID)
		}
		if seen[srv.ID] {
			return fmt.Errorf("catalog server %d: duplicate id", srv.ID)
		}
		seen[srv.ID] = true
	}
	seen = make(map[int]bool)
	for _, p := range s.Plans {
		if p.ID <= 0 || p.DurationMonths <= 0 {
			return fmt.Errorf("catalog plan %d: id and duration_months must be positive", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("catalog plan %d: duplicate id", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// Apply upserts the seed rows into the store
func (s *SeedFile) Apply(ctx context.Context, store repository.Store) error {
	for _, srv := range s.Servers {
		if err := store.PutServer(ctx, srv); err != nil {
			return fmt.Errorf("seed server %d: %w", srv.ID, err)
		}
	}
	for _, p := range s.Plans {
		if err := store.PutPlan(ctx, p); err != nil {
			return fmt.Errorf("seed plan %d: %w", p.ID, err)
		}
	}
	log.Printf("[Catalog] Seeded %d servers and %d plans", len(s.Servers), len(s.Plans))
	return nil
}
