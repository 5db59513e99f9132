package transcribe

import "go.opentelemetry.io/otel"

const scopeName = "github.com/room4-2/OrderDesk/transcribe"

var tracer = otel.Tracer(scopeName)
