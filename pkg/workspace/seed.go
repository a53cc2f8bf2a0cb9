package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/getmockd/vbackend/pkg/document"
	"github.com/getmockd/vbackend/pkg/entity"
)

// Fixture is one seed record.
type Fixture struct {
	Workspace string         `yaml:"workspace"`
	Type      string         `yaml:"type"`
	ID        string         `yaml:"id"`
	Protocol  string         `yaml:"protocol"`
	Data      document.Value `yaml:"data"`
}

// FixtureFile is the layout of a seed file:
//
//	records:
//	  - workspace: default
//	    type: user
//	    id: "1"
//	    protocol: REST
//	    data: {name: Alice}
type FixtureFile struct {
	Records []Fixture `yaml:"records"`
}

// LoadFixtures reads a seed file.
func LoadFixtures(path string) ([]Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f FixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return f.Records, nil
}

// Seed upserts fixtures through each workspace's tracker. Fixtures without
// a workspace go to DefaultID; fixtures without a protocol are tagged REST.
// Every fixture is attempted and the failures are returned together.
func (r *Registry) Seed(ctx context.Context, fixtures []Fixture) (int, error) {
	var errs []error
	n := 0
	for i, f := range fixtures {
		if err := r.seedOne(ctx, f); err != nil {
			errs = append(errs, fmt.Errorf("fixture %d (%s/%s): %w", i, f.Type, f.ID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func (r *Registry) seedOne(ctx context.Context, f Fixture) error {
	wsID := f.Workspace
	if wsID == "" {
		wsID = DefaultID
	}
	protocol := entity.ProtocolREST
	if f.Protocol != "" {
		p, err := entity.ParseProtocol(f.Protocol)
		if err != nil {
			return err
		}
		protocol = p
	}
	data := f.Data
	if data.IsNull() {
		data = document.Map(nil)
	}
	ws, err := r.Ensure(ctx, wsID)
	if err != nil {
		return err
	}
	_, err = ws.tracker.Upsert(ctx, protocol, f.Type, f.ID, data)
	return err
}
