package duradb

// Erase removes all three files of a database triplet (spec.md §3
// "Destroy"). Erasing a file that doesn't exist is not an error; Erase
// returns the first error encountered, if any, after attempting all
// three removals.
func Erase(datPath, keyPath, logPath string, opts ...Option) error {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var firstErr error
	for _, p := range []string{datPath, keyPath, logPath} {
		if err := cfg.fs.Erase(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
