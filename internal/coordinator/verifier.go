package coordinator

// verify reconciles the canonical sink's observed entry count against the
// checkpoint total. Observed may legitimately exceed the expectation when
// the source gained messages mid-cycle, so the match condition is >=.
func (c *Coordinator) verify(res *cycleResult) (observed int, matches bool) {
	observed, err := res.canonical.CountEntries()
	if err != nil {
		c.log.Warn().Err(err).Str("channel", res.title).Msg("verifier: cannot read canonical sink")
		return 0, false
	}

	matches = int64(observed) >= res.total
	c.log.Debug().
		Str("channel", res.title).
		Int("observed", observed).
		Int64("expected", res.total).
		Bool("matches", matches).
		Msg("verifier: canonical sink checked")
	return observed, matches
}
