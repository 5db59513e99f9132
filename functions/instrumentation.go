package functions

import "go.opentelemetry.io/otel"

const scopeName = "github.com/room4-2/OrderDesk/functions"

var tracer = otel.Tracer(scopeName)
