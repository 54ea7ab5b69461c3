// Package backlog is the default Artefacts collaborator: tasks stored as
// yaml files under the haven's backlog directory. It exists so the binary
// is operable end-to-end without the full artefact subsystem; the
// lifecycle core only ever sees the collab interfaces.
package backlog

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quazardous/sailing/internal/collab"
	"github.com/quazardous/sailing/internal/escalate"
	"github.com/quazardous/sailing/internal/haven"
)

// TaskFile is the on-disk shape of a backlog task.
type TaskFile struct {
	ID        string     `yaml:"id"`
	Title     string     `yaml:"title"`
	PRD       string     `yaml:"prd"`
	Epic      string     `yaml:"epic"`
	Status    string     `yaml:"status"`
	Body      string     `yaml:"body,omitempty"`
	UpdatedAt *time.Time `yaml:"updated_at,omitempty"`
}

// Store implements collab.Artefacts over yaml files.
type Store struct {
	hv *haven.Haven
}

// NewStore returns a backlog store for a haven.
func NewStore(hv *haven.Haven) *Store {
	return &Store{hv: hv}
}

// GetTask loads a task artefact. A missing file yields a not_found
// escalation; missing parent coordinates yield a precondition escalation.
func (s *Store) GetTask(id string) (*collab.TaskRef, error) {
	path := s.hv.BacklogTask(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, escalate.New(escalate.KindNotFound,
				fmt.Sprintf("task %s has no artefact at %s", id, path),
				fmt.Sprintf("create the task artefact (e.g. `sailing task add %s`)", id),
				"check the task id spelling",
			)
		}
		return nil, fmt.Errorf("reading task %s: %w", id, err)
	}
	var tf TaskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing task %s: %w", path, err)
	}
	if strings.TrimSpace(tf.ID) == "" {
		tf.ID = id
	}
	if strings.TrimSpace(tf.PRD) == "" || strings.TrimSpace(tf.Epic) == "" {
		return nil, escalate.New(escalate.KindPrecondition,
			fmt.Sprintf("task %s has no valid parent (prd=%q epic=%q)", id, tf.PRD, tf.Epic),
			fmt.Sprintf("set prd and epic in %s", path),
		)
	}
	return &collab.TaskRef{
		ID:     tf.ID,
		File:   path,
		Title:  tf.Title,
		EpicID: tf.Epic,
		PRDID:  tf.PRD,
		Body:   tf.Body,
	}, nil
}

// TransitionTask rewrites the task's status field.
func (s *Store) TransitionTask(id, newStatus string) error {
	path := s.hv.BacklogTask(id)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading task %s: %w", id, err)
	}
	var tf TaskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("parsing task %s: %w", path, err)
	}
	now := time.Now().UTC()
	tf.Status = newStatus
	tf.UpdatedAt = &now
	out, err := yaml.Marshal(&tf)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0644)
}

// GetTaskRaw returns the raw task file, including its status.
func (s *Store) GetTaskRaw(id string) (*TaskFile, error) {
	data, err := os.ReadFile(s.hv.BacklogTask(id))
	if err != nil {
		return nil, err
	}
	var tf TaskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, err
	}
	return &tf, nil
}

// Put writes a task artefact; used by init/tests and the task command.
func (s *Store) Put(tf *TaskFile) error {
	if strings.TrimSpace(tf.ID) == "" {
		return fmt.Errorf("task id is required")
	}
	if err := os.MkdirAll(s.hv.BacklogTasksDir(), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(tf)
	if err != nil {
		return err
	}
	return os.WriteFile(s.hv.BacklogTask(tf.ID), data, 0644)
}
