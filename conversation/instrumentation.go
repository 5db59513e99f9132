package conversation

import "go.opentelemetry.io/otel"

const scopeName = "github.com/room4-2/OrderDesk/conversation"

var tracer = otel.Tracer(scopeName)
