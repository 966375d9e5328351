// Package antigravity holds upstream Code Assist API adapters that sit
// outside the chat path proper.
package antigravity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/bnema/antigravity-pool/internal/domain"
	"github.com/bnema/antigravity-pool/internal/ports"
	"github.com/bnema/antigravity-pool/internal/translate"
)

type loadCodeAssistRequest struct {
	CloudAICompanionProject string         `json:"cloudaicompanionProject,omitempty"`
	Metadata                clientMetadata `json:"metadata"`
}

type clientMetadata struct {
	IDEType    string `json:"ideType"`
	Platform   string `json:"platform"`
	PluginType string `json:"pluginType"`
}

type loadCodeAssistResponse struct {
	CloudAICompanionProject string `json:"cloudaicompanionProject,omitempty"`
}

// ProjectService resolves the upstream project context for an account.
// Accounts with an explicit project keep it; otherwise the Code Assist
// companion project is looked up, and failing that a managed project id is
// minted locally and remembered on the account.
type ProjectService struct {
	Transport ports.Transport
	Endpoints []string
	Log       *logrus.Entry
}

func NewProjectService(transport ports.Transport, endpoints []string, logger *logrus.Logger) *ProjectService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ProjectService{
		Transport: transport,
		Endpoints: endpoints,
		Log:       logger.WithField("component", "project"),
	}
}

func (s *ProjectService) Resolve(ctx context.Context, account *domain.Account, auth domain.AuthRecord) (string, *domain.AuthRecord, error) {
	if account.ProjectID != "" {
		return account.ProjectID, nil, nil
	}

	projectID, err := s.loadCodeAssist(ctx, auth.Access, account.ManagedProjectID)
	if err != nil {
		if account.ManagedProjectID != "" {
			s.Log.WithError(err).WithField("account", account.Email).Debug("project lookup failed, keeping managed project")
			return account.ManagedProjectID, nil, nil
		}
		return "", nil, fmt.Errorf("resolve project: %w", err)
	}
	if projectID != "" {
		account.ProjectID = projectID
		return projectID, nil, nil
	}

	if account.ManagedProjectID == "" {
		account.ManagedProjectID = translate.GenerateProjectID()
		s.Log.WithFields(logrus.Fields{"account": account.Email, "project": account.ManagedProjectID}).Debug("minted managed project")
	}
	return account.ManagedProjectID, nil, nil
}

func (s *ProjectService) loadCodeAssist(ctx context.Context, accessToken, existingProjectID string) (string, error) {
	body, err := json.Marshal(loadCodeAssistRequest{
		CloudAICompanionProject: existingProjectID,
		Metadata: clientMetadata{
			IDEType:    "IDE_UNSPECIFIED",
			Platform:   "PLATFORM_UNSPECIFIED",
			PluginType: "GEMINI",
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal loadCodeAssist request: %w", err)
	}

	var lastErr error
	for _, endpoint := range s.Endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1internal:loadCodeAssist", bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+accessToken)

		resp, err := s.Transport.Send(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			continue
		}
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = &domain.StatusError{Code: resp.StatusCode, Message: "loadCodeAssist failed"}
			continue
		}

		var parsed loadCodeAssistResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return "", fmt.Errorf("parse loadCodeAssist response: %w", err)
		}
		return parsed.CloudAICompanionProject, nil
	}
	return "", lastErr
}
