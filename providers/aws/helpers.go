package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/strata-io/strata/internal/provider"
)

// classify maps an SDK error onto the engine's retry classes. AWS
// throttling and 5xx responses are worth retrying; a dead context on a
// mutating call means the request may or may not have landed.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return provider.Ambiguous(op, err)
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "Throttling", "ThrottlingException", "TooManyRequestsException",
			"RequestLimitExceeded", "ServiceUnavailable", "InternalError",
			"InternalFailure", "RequestTimeout":
			return provider.Transient(op, err)
		}
		if ae.ErrorFault() == smithy.FaultServer {
			return provider.Transient(op, err)
		}
		if isNotFoundCode(ae.ErrorCode()) {
			return provider.Permanent(op, fmt.Errorf("%w: %w", provider.ErrUnknownID, err))
		}
		return provider.Permanent(op, err)
	}
	// Connection-level failures before a response are safe to retry.
	return provider.Transient(op, err)
}

// isNotFoundCode matches the id-does-not-exist error families across
// the EC2, ELB, S3, and CloudFront APIs.
func isNotFoundCode(code string) bool {
	switch code {
	case "NoSuchBucket", "NoSuchDistribution", "LoadBalancerNotFound", "TargetGroupNotFound":
		return true
	}
	return strings.HasSuffix(code, ".NotFound") || strings.HasSuffix(code, "NotFoundException")
}

// isDuplicateRule matches re-authorizing a security group rule that is
// already present, which converging an update runs into.
func isDuplicateRule(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "InvalidPermission.Duplicate"
}

func strAttr(attrs map[string]any, name string) string {
	if v, ok := attrs[name].(string); ok {
		return v
	}
	return ""
}

func boolAttr(attrs map[string]any, name string) bool {
	if v, ok := attrs[name].(bool); ok {
		return v
	}
	return false
}

// intAttr tolerates the numeric types the JSON and cty decode paths
// produce.
func intAttr(attrs map[string]any, name string, def int32) int32 {
	switch v := attrs[name].(type) {
	case int:
		return int32(v)
	case int32:
		return v
	case int64:
		return int32(v)
	case float64:
		return int32(v)
	default:
		return def
	}
}

func strListAttr(attrs map[string]any, name string) []string {
	raw, ok := attrs[name].([]any)
	if !ok {
		if direct, ok := attrs[name].([]string); ok {
			return direct
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func mapAttr(attrs map[string]any, name string) map[string]any {
	if v, ok := attrs[name].(map[string]any); ok {
		return v
	}
	return nil
}

// listOfMaps normalizes a repeated nested block, which arrives either
// as a single object or a tuple of objects.
func listOfMaps(attrs map[string]any, name string) []map[string]any {
	switch v := attrs[name].(type) {
	case map[string]any:
		return []map[string]any{v}
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

func requireAttr(attrs map[string]any, name string) (string, error) {
	v := strAttr(attrs, name)
	if v == "" {
		return "", fmt.Errorf("missing required attribute %q", name)
	}
	return v, nil
}

func ptr[T any](v T) *T { return &v }
