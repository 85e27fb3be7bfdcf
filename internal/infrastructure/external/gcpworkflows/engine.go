// Package gcpworkflows dispatches triggers as Google Cloud Workflows executions.
package gcpworkflows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/garyjia/taxcredit-docflow/internal/application/port"
	"github.com/garyjia/taxcredit-docflow/internal/domain/workflow"
)

// Config identifies the workflow to execute
type Config struct {
	ProjectID       string
	Location        string
	WorkflowID      string
	CredentialsFile string
}

func (c Config) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s/workflows/%s", c.ProjectID, c.Location, c.WorkflowID)
}

// executionsAPI is the part of the executions client the engine uses
type executionsAPI interface {
	create(ctx context.Context, req *executionspb.CreateExecutionRequest) (*executionspb.Execution, error)
	get(ctx context.Context, req *executionspb.GetExecutionRequest) (*executionspb.Execution, error)
	close() error
}

type sdkClient struct {
	c *executions.Client
}

func (s sdkClient) create(ctx context.Context, req *executionspb.CreateExecutionRequest) (*executionspb.Execution, error) {
	return s.c.CreateExecution(ctx, req)
}

func (s sdkClient) get(ctx context.Context, req *executionspb.GetExecutionRequest) (*executionspb.Execution, error) {
	return s.c.GetExecution(ctx, req)
}

func (s sdkClient) close() error {
	return s.c.Close()
}

// Engine implements port.WorkflowEngine on Cloud Workflows
type Engine struct {
	cfg    Config
	api    executionsAPI
	logger *zap.Logger
}

// NewEngine creates the executions client
func NewEngine(ctx context.Context, cfg Config, logger *zap.Logger) (*Engine, error) {
	if cfg.ProjectID == "" || cfg.Location == "" || cfg.WorkflowID == "" {
		return nil, errors.New("project id, location and workflow id are required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := executions.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	logger.Info("Cloud Workflows engine initialized", zap.String("workflow", cfg.parent()))
	return &Engine{cfg: cfg, api: sdkClient{c: client}, logger: logger}, nil
}

// Dispatch starts an execution with payload as its argument
func (e *Engine) Dispatch(ctx context.Context, payload []byte) (*port.DispatchResult, error) {
	exec, err := e.api.create(ctx, &executionspb.CreateExecutionRequest{
		Parent: e.cfg.parent(),
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	if exec.GetName() == "" {
		return nil, errors.New("workflow execution created without a name")
	}
	return &port.DispatchResult{
		ExecutionID: exec.GetName(),
		ScenarioID:  e.cfg.WorkflowID,
		Raw:         exec.GetState().String(),
	}, nil
}

// QueryStatus reads the execution and maps its state onto the engine-neutral vocabulary
func (e *Engine) QueryStatus(ctx context.Context, executionID, scenarioID string) (*port.ExecutionStatus, error) {
	exec, err := e.api.get(ctx, &executionspb.GetExecutionRequest{Name: executionID})
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow execution: %w", err)
	}

	status := &port.ExecutionStatus{
		Status: mapState(exec.GetState()),
		Raw:    exec.GetResult(),
	}
	if execErr := exec.GetError(); execErr != nil {
		status.Message = execErr.GetPayload()
		if status.Message == "" {
			status.Message = execErr.GetContext()
		}
	}
	return status, nil
}

// Close releases the client connection
func (e *Engine) Close() error {
	return e.api.close()
}

func mapState(s executionspb.Execution_State) string {
	switch s {
	case executionspb.Execution_QUEUED:
		return workflow.ExternalPending
	case executionspb.Execution_ACTIVE:
		return workflow.ExternalRunning
	case executionspb.Execution_SUCCEEDED:
		return workflow.ExternalSuccess
	case executionspb.Execution_FAILED, executionspb.Execution_CANCELLED:
		return workflow.ExternalError
	default:
		return strings.ToLower(s.String())
	}
}

var _ port.WorkflowEngine = (*Engine)(nil)
