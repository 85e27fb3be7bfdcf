package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidGenerateParams = errors.New("invalid generate params")
	ErrDocumentNotFound      = errors.New("document not found")
	ErrDocumentNotAvailable  = errors.New("document not available")
	ErrInvalidDispatch       = errors.New("invalid dispatch request")
	ErrTriggerNotFound       = errors.New("workflow trigger not found")
	ErrTriggerNotTerminal    = errors.New("workflow trigger is still in progress")
	ErrInvalidAdminRequest   = errors.New("invalid admin request")
	ErrRefundsDisabled       = errors.New("payment provider not configured")
)

// GenerationStage names the step of document generation that failed
type GenerationStage string

const (
	StageRender  GenerationStage = "render"
	StageUpload  GenerationStage = "upload"
	StagePersist GenerationStage = "persist"
)

// GenerationError wraps a collaborator failure with the stage it happened in
type GenerationError struct {
	Stage GenerationStage
	Cause error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("document generation failed at %s: %v", e.Stage, e.Cause)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}
