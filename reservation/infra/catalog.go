package infra

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"reservation-gateway/reservation/domain"

	"gopkg.in/yaml.v3"
)

// FileCatalog é um Event Catalog somente leitura carregado de YAML:
//
//	events:
//	  - id: show-1
//	    title: Show de abertura
//	    startsAt: 2026-11-01T20:00:00Z
//	    capacity: 120
type FileCatalog struct {
	entries map[domain.ResourceID]domain.CatalogEntry
}

type catalogFile struct {
	Events []catalogEvent `yaml:"events"`
}

type catalogEvent struct {
	ID       string    `yaml:"id"`
	Title    string    `yaml:"title"`
	StartsAt time.Time `yaml:"startsAt"`
	Capacity int       `yaml:"capacity"`
}

func LoadCatalogFile(path string) (*FileCatalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

func ParseCatalog(r io.Reader) (*FileCatalog, error) {
	var doc catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &FileCatalog{entries: make(map[domain.ResourceID]domain.CatalogEntry, len(doc.Events))}
	for i, ev := range doc.Events {
		id := strings.TrimSpace(ev.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog event #%d: id is required", i)
		}
		if ev.Capacity < 0 {
			return nil, fmt.Errorf("catalog event %q: capacity must be >= 0", id)
		}
		if _, dup := c.entries[domain.ResourceID(id)]; dup {
			return nil, fmt.Errorf("catalog event %q: duplicated id", id)
		}
		c.entries[domain.ResourceID(id)] = domain.CatalogEntry{
			ID:       domain.ResourceID(id),
			Title:    ev.Title,
			StartsAt: ev.StartsAt,
			Total:    ev.Capacity,
		}
	}
	return c, nil
}

func (c *FileCatalog) GetResource(_ context.Context, id domain.ResourceID) (domain.CatalogEntry, error) {
	e, ok := c.entries[id]
	if !ok {
		return domain.CatalogEntry{}, domain.ErrResourceNotFound
	}
	return e, nil
}

// List devolve as entradas ordenadas por ID.
func (c *FileCatalog) List(_ context.Context) ([]domain.CatalogEntry, error) {
	out := make([]domain.CatalogEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
