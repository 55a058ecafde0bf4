package ingest

// SetReadFile replaces how the pipeline reads file contents.
func SetReadFile(p *Pipeline, fn func(string) ([]byte, error)) {
	p.readFile = fn
}
