// Package telemetry provides semantic conventions for relay observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for relay-specific telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name

const (
	// AttrItemKind is the attribute key for envelope item kind labels.
	AttrItemKind = attribute.Key("item.kind")
	// AttrDataCategory is the attribute key for outcome data-category labels.
	AttrDataCategory = attribute.Key("data.category")
	// AttrOutcome is the attribute key for outcome labels.
	AttrOutcome = attribute.Key("outcome")
	// AttrOutcomeReason is the attribute key for outcome reason/rule labels.
	AttrOutcomeReason = attribute.Key("outcome.reason")
	// AttrProcessingMode is the attribute key for the pipeline mode (managed/processing).
	AttrProcessingMode = attribute.Key("processing.mode")
	// AttrOrgID is the attribute key for the organization identifier.
	AttrOrgID = attribute.Key("org.id")
	// AttrProjectID is the attribute key for the project identifier.
	AttrProjectID = attribute.Key("project.id")
	// AttrPoolName is the attribute key for pool identifiers.
	AttrPoolName = attribute.Key("pool.name")
	// AttrObjectType is the attribute key for pooled object types.
	AttrObjectType = attribute.Key("object.type")
	// AttrOperation is the attribute key for operation labels.
	AttrOperation = attribute.Key("operation")
	// AttrResult is the attribute key for operation result labels.
	AttrResult = attribute.Key("result")
	// AttrEnvironment is the attribute key for environment identifiers.
	AttrEnvironment = attribute.Key("environment")
	// AttrErrorKind is the attribute key for pipeline error kind labels.
	AttrErrorKind = attribute.Key("error.kind")
)

// Item kind values mirrored from pkg/envelope.Kind for metric labels.
const (
	ItemKindEvent       = "event"
	ItemKindTransaction = "transaction"
	ItemKindSession     = "session"
	ItemKindAttachment  = "attachment"
	ItemKindProfile     = "profile"
	ItemKindReplay      = "replay_recording"
	ItemKindUnknown     = "unknown"
)

// ItemAttributes returns common attributes for per-item pipeline metrics.
func ItemAttributes(environment, itemKind, dataCategory string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrItemKind.String(itemKind),
		AttrDataCategory.String(dataCategory),
	}
}

// OutcomeAttributes returns attributes for outcome-emission metrics.
func OutcomeAttributes(environment, outcome, reason, dataCategory string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOutcome.String(outcome),
		AttrDataCategory.String(dataCategory),
	}
	if reason != "" {
		attrs = append(attrs, AttrOutcomeReason.String(reason))
	}
	return attrs
}

// ScopeAttributes returns attributes identifying the scoping tuple for a metric.
func ScopeAttributes(environment string, orgID, projectID uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOrgID.String(formatUint(orgID)),
		AttrProjectID.String(formatUint(projectID)),
	}
}

// PoolAttributes returns common attributes for pool metrics.
func PoolAttributes(environment, poolName, objectType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrPoolName.String(poolName),
		AttrObjectType.String(objectType),
	}
}

// ErrorAttributes returns attributes for pipeline error metrics.
func ErrorAttributes(environment, errorKind, mode string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrErrorKind.String(errorKind),
		AttrProcessingMode.String(mode),
	}
}

// OperationResultAttributes returns attributes for operation metrics with result classification.
func OperationResultAttributes(environment, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}

func formatUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
