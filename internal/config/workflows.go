package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/flowline-dev/flowline/pkg/models"
)

// workflowsFile is the on-disk shape of the workflow registry.
type workflowsFile struct {
	Workflows []*models.WorkflowConfiguration `yaml:"workflows"`
}

// Registry holds the per-project workflow configurations. It is safe for
// concurrent use; the poller reads from it on every cycle while Watch
// replaces the set on file changes.
type Registry struct {
	path string

	mu        sync.RWMutex
	workflows map[string]*models.WorkflowConfiguration
}

// NewRegistry creates an empty registry backed by the given file.
func NewRegistry(path string) *Registry {
	return &Registry{
		path:      path,
		workflows: make(map[string]*models.WorkflowConfiguration),
	}
}

// LoadRegistry creates a registry and loads the file once. A missing file
// is not an error; the registry starts empty.
func LoadRegistry(path string) (*Registry, error) {
	r := NewRegistry(path)
	if err := r.Reload(); err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, err
	}
	return r, nil
}

// Reload re-reads the registry file and replaces the in-memory set. On a
// read or parse failure the previous set is kept, so a half-written file
// never wipes a running poller's configuration.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}

	var file workflowsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing %s: %w", r.path, err)
	}

	next := make(map[string]*models.WorkflowConfiguration, len(file.Workflows))
	for _, wf := range file.Workflows {
		if err := wf.Validate(); err != nil {
			return fmt.Errorf("workflow %q in %s: %w", wf.ProjectID, r.path, err)
		}
		if _, dup := next[wf.ProjectID]; dup {
			return fmt.Errorf("duplicate workflow for project %q in %s", wf.ProjectID, r.path)
		}
		next[wf.ProjectID] = wf
	}

	r.mu.Lock()
	r.workflows = next
	r.mu.Unlock()
	return nil
}

// WorkflowFor returns the configuration for a project.
func (r *Registry) WorkflowFor(projectID string) (*models.WorkflowConfiguration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.workflows[projectID]
	return cfg, ok
}

// Projects returns the IDs of all registered projects.
func (r *Registry) Projects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.workflows))
	for id := range r.workflows {
		ids = append(ids, id)
	}
	return ids
}

// Put inserts or replaces a workflow in memory. Used by tests and by the
// start command when a workflow is given on the command line.
func (r *Registry) Put(cfg *models.WorkflowConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.workflows[cfg.ProjectID] = cfg
	r.mu.Unlock()
	return nil
}

// Watch reloads the registry whenever its file changes, until stop is
// closed. Editors replace files rather than writing in place, so the
// watch is on the directory and filtered by name.
func (r *Registry) Watch(stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(r.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := r.Reload(); err != nil {
					log.Printf("[config] workflow reload failed, keeping previous set: %v", err)
					continue
				}
				log.Printf("[config] reloaded workflows from %s (%d projects)", r.path, len(r.Projects()))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[config] watcher error: %v", err)
			}
		}
	}()
	return nil
}
