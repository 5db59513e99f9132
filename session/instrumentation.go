package session

import "go.opentelemetry.io/otel"

const scopeName = "github.com/room4-2/OrderDesk/session"

var tracer = otel.Tracer(scopeName)
