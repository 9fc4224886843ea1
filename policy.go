package modflash

// SelectUpdate implements the update policy (spec.md §4.6): from a set of
// candidate firmware versions available on disk, pick the one that both
// (a) is hardware-compatible with current and (b) is a genuine upgrade
// over current, preferring the greatest software version among ties.
// It mirrors original_source/src/main.rs update_module's filter-then-
// reduce pipeline. ok is false when no candidate qualifies.
func SelectUpdate(current FirmwareVersion, candidates []FirmwareVersion) (best FirmwareVersion, ok bool) {
	for _, c := range candidates {
		if !c.upgrades(current) {
			continue
		}
		if !ok || softwareGreater(c.Software, best.Software) {
			best = c
			ok = true
		}
	}
	return best, ok
}
