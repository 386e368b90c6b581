package featurestore

// Logger is the minimal printf-style interface the client reports through.
// The standard library's *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...interface{})
}
