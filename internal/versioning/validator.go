package versioning

import (
	"fmt"
	"strings"

	"riskcfg/internal/constants"
	"riskcfg/pkg/cel"
)

// Attribute names checked with CEL, per artifact type.
const (
	attrExpression = "expression"
	attrCondition  = "condition"
)

func ValidateCreateVersion(req CreateVersionRequest) error {
	if strings.TrimSpace(req.EventNo) == "" {
		return fmt.Errorf("eventNo is required")
	}
	if len(req.EventNo) > constants.MaxEventNoLen {
		return fmt.Errorf("eventNo must be at most %d characters", constants.MaxEventNoLen)
	}
	if err := validateVersionCode(req.VersionCode); err != nil {
		return err
	}
	if len(req.VersionDesc) > constants.MaxVersionDescLen {
		return fmt.Errorf("versionDesc must be at most %d characters", constants.MaxVersionDescLen)
	}
	return nil
}

func validateVersionCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("versionCode is required")
	}
	if len(code) > constants.MaxVersionCodeLen {
		return fmt.Errorf("versionCode must be at most %d characters", constants.MaxVersionCodeLen)
	}
	return nil
}

func validateReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("reason is required")
	}
	if len(reason) > constants.MaxReasonLen {
		return fmt.Errorf("reason must be at most %d characters", constants.MaxReasonLen)
	}
	return nil
}

// ValidateArtifact checks the request shape and compiles the expression attributes its type carries.
func ValidateArtifact(evaluator *cel.Evaluator, req ArtifactRequest) error {
	if !req.ConfigType.IsArtifact() {
		return fmt.Errorf("invalid configType: %s", req.ConfigType)
	}
	if strings.TrimSpace(req.ConfigKey) == "" {
		return fmt.Errorf("configKey is required")
	}

	switch req.ConfigType {
	case ConfigTypeDeriveField:
		expr, err := stringAttribute(req.Attributes, attrExpression, true)
		if err != nil {
			return err
		}
		if err := evaluator.ValidateExpression(expr); err != nil {
			return fmt.Errorf("invalid expression: %w", err)
		}
	case ConfigTypeStage, ConfigTypeIndicator:
		cond, err := stringAttribute(req.Attributes, attrCondition, false)
		if err != nil {
			return err
		}
		if cond == "" {
			return nil
		}
		if err := evaluator.ValidateCondition(cond); err != nil {
			return fmt.Errorf("invalid condition: %w", err)
		}
	}
	return nil
}

func stringAttribute(attrs map[string]interface{}, name string, required bool) (string, error) {
	raw, ok := attrs[name]
	if !ok || raw == nil {
		if required {
			return "", fmt.Errorf("attributes.%s is required", name)
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("attributes.%s must be a string", name)
	}
	if required && strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("attributes.%s is required", name)
	}
	return s, nil
}
