// Package coretools registers the built-in capability families with the
// tool executor. A family is registered only when its backing collaborator
// is configured, so the manifest never advertises a tool that cannot run.
package coretools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/diegosucaria/deedee-sub000/pkg/cron"
	"github.com/diegosucaria/deedee-sub000/pkg/memory"
	"github.com/diegosucaria/deedee-sub000/pkg/toolexecutor"
	"github.com/diegosucaria/deedee-sub000/pkg/vault"
)

// Registrar is the part of the tool executor that families register into.
type Registrar interface {
	RegisterTool(def toolexecutor.ToolDefinition) error
}

// FactStore backs the memory family.
type FactStore interface {
	Remember(ctx context.Context, content string, tags []string) (*memory.Fact, error)
	Recall(ctx context.Context, query string, limit int) ([]memory.Fact, error)
	Forget(ctx context.Context, id string) error
}

// Scheduler backs the scheduling family.
type Scheduler interface {
	AddJob(ctx context.Context, params cron.AddParams) (*cron.Job, error)
	CancelJob(ctx context.Context, name string) error
	GetJob(name string) (*cron.Job, error)
	ListJobs() []*cron.Job
}

// NoteVault backs the knowledge-vault family.
type NoteVault interface {
	Search(ctx context.Context, query string, limit int) ([]vault.SearchResult, error)
	ReadNote(path string) (*vault.Note, error)
	WriteNote(path, content string, appendMode bool) (bool, error)
	ListNotes(pattern string) ([]vault.Note, error)
}

// Options selects the families to register and their collaborators.
type Options struct {
	Facts     FactStore
	FilesRoot string
	Scheduler Scheduler
	Vault     NoteVault
	Aliases   map[string]string
	Calendar  Calendar
	Mail      Mailer
	Images    ImageGenerator
	// Messaging registers send_message; it needs a Send callback at run time.
	Messaging bool
	// Location is the default timezone for scheduling; nil means local.
	Location *time.Location
}

// Register registers every family whose collaborator is set.
func Register(executor Registrar, opts Options) error {
	if executor == nil {
		return errors.New("tool executor is required")
	}

	var tools []toolexecutor.ToolDefinition
	if opts.Facts != nil {
		tools = append(tools, memoryTools(opts.Facts)...)
	}
	if opts.FilesRoot != "" {
		tools = append(tools, filesystemTools(opts.FilesRoot)...)
	}
	if opts.Scheduler != nil {
		tools = append(tools, schedulingTools(opts.Scheduler, opts.Location)...)
	}
	if opts.Vault != nil {
		tools = append(tools, vaultTools(opts.Vault)...)
	}
	if len(opts.Aliases) > 0 {
		tools = append(tools, aliasTools(opts.Aliases)...)
	}
	if opts.Calendar != nil {
		tools = append(tools, calendarTools(opts.Calendar)...)
	}
	if opts.Mail != nil {
		tools = append(tools, emailTools(opts.Mail)...)
	}
	if opts.Messaging {
		tools = append(tools, messagingTools()...)
	}
	if opts.Images != nil {
		tools = append(tools, mediaTools(opts.Images)...)
	}

	for _, tool := range tools {
		if err := executor.RegisterTool(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

// decodeParams copies the validated argument map into a typed struct.
func decodeParams(params map[string]interface{}, out interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}
	return nil
}
