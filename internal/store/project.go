package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Settings are the climate targets of a project.
type Settings struct {
	Temperature float32 `json:"temperature"` // °C
	Humidity    float32 `json:"humidity"`    // %RH
}

// DefaultSettings are applied to new projects.
func DefaultSettings() Settings {
	return Settings{Temperature: 30, Humidity: 75}
}

// Project is one fermentation batch.
type Project struct {
	ID          uint64     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
	StartAt     *time.Time `json:"start_at,omitempty"`
	EndAt       *time.Time `json:"end_at,omitempty"`
	Settings    Settings   `json:"settings"`
}

// Active reports whether the project has started and not ended.
func (p Project) Active() bool {
	return p.StartAt != nil && p.EndAt == nil
}

// List returns all projects ordered by id.
func (s *Store) List() ([]Project, error) {
	projects := []Project{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(projectsBucket).ForEach(func(_, v []byte) error {
			var p Project
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			projects = append(projects, p)
			return nil
		})
	})
	return projects, err
}

// Get returns the project with id.
func (s *Store) Get(id uint64) (Project, error) {
	var p Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return getProject(tx, id, &p)
	})
	return p, err
}

// Create stores a new project with default settings.
func (s *Store) Create(name, description string, now time.Time) (Project, error) {
	p := Project{
		Name:        name,
		Description: description,
		CreatedAt:   now.UTC(),
		Settings:    DefaultSettings(),
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(projectsBucket)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		p.ID = id
		return putProject(tx, &p)
	})
	return p, err
}

// Update changes name and/or description; nil leaves a field unchanged.
func (s *Store) Update(id uint64, name, description *string) (Project, error) {
	return s.mutate(id, func(tx *bolt.Tx, p *Project) error {
		if name != nil {
			p.Name = *name
		}
		if description != nil {
			p.Description = *description
		}
		return nil
	})
}

// Delete removes a project.
func (s *Store) Delete(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(projectsBucket)
		if b.Get(itob(id)) == nil {
			return fmt.Errorf("%w: %d", ErrProjectNotFound, id)
		}
		return b.Delete(itob(id))
	})
}

// Start marks a project as running from at. Only one project may run at a
// time.
func (s *Store) Start(id uint64, at time.Time) (Project, error) {
	return s.mutate(id, func(tx *bolt.Tx, p *Project) error {
		active, err := activeProject(tx)
		if err == nil && active.ID != id {
			return fmt.Errorf("%w: %d %q", ErrProjectActive, active.ID, active.Name)
		}
		at = at.UTC()
		p.StartAt = &at
		p.EndAt = nil
		return nil
	})
}

// End marks a project as finished at at.
func (s *Store) End(id uint64, at time.Time) (Project, error) {
	return s.mutate(id, func(tx *bolt.Tx, p *Project) error {
		at = at.UTC()
		p.EndAt = &at
		return nil
	})
}

// SetSettings replaces a project's climate targets.
func (s *Store) SetSettings(id uint64, settings Settings) (Project, error) {
	return s.mutate(id, func(tx *bolt.Tx, p *Project) error {
		p.Settings = settings
		return nil
	})
}

// Active returns the running project.
func (s *Store) Active() (Project, error) {
	var p Project
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		p, err = activeProject(tx)
		return err
	})
	return p, err
}

// ActiveSettings returns the targets of the running project, or
// ErrProjectNotFound.
func (s *Store) ActiveSettings() (Settings, error) {
	p, err := s.Active()
	if err != nil {
		return Settings{}, err
	}
	return p.Settings, nil
}

func (s *Store) mutate(id uint64, fn func(*bolt.Tx, *Project) error) (Project, error) {
	var p Project
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := getProject(tx, id, &p); err != nil {
			return err
		}
		if err := fn(tx, &p); err != nil {
			return err
		}
		return putProject(tx, &p)
	})
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func activeProject(tx *bolt.Tx) (Project, error) {
	var found *Project
	err := tx.Bucket(projectsBucket).ForEach(func(_, v []byte) error {
		var p Project
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		if found == nil && p.Active() {
			found = &p
		}
		return nil
	})
	if err != nil {
		return Project{}, err
	}
	if found == nil {
		return Project{}, fmt.Errorf("%w: no active project", ErrProjectNotFound)
	}
	return *found, nil
}

func getProject(tx *bolt.Tx, id uint64, p *Project) error {
	v := tx.Bucket(projectsBucket).Get(itob(id))
	if v == nil {
		return fmt.Errorf("%w: %d", ErrProjectNotFound, id)
	}
	return json.Unmarshal(v, p)
}

func putProject(tx *bolt.Tx, p *Project) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode project %d: %w", p.ID, err)
	}
	return tx.Bucket(projectsBucket).Put(itob(p.ID), data)
}
