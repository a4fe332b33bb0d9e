package walkforward

// generateWindows lays out the in-sample/out-of-sample window pairs.
// Rolling windows slide both in-sample ends forward by stepMonths;
// anchored windows pin the in-sample start to the original startDate and
// only grow the in-sample end. Generation stops once the out-of-sample
// period would run past endDate.
func generateWindows(cfg Config) []Window {
	var windows []Window

	for step := 0; ; step++ {
		isStart := cfg.StartDate
		isEnd := cfg.StartDate.AddDate(0, cfg.InSampleMonths+step*cfg.StepMonths, 0)
		if !cfg.AnchoredStart {
			isStart = cfg.StartDate.AddDate(0, step*cfg.StepMonths, 0)
			isEnd = isStart.AddDate(0, cfg.InSampleMonths, 0)
		}

		oosEnd := isEnd.AddDate(0, cfg.OutOfSampleMonths, 0)
		if oosEnd.After(cfg.EndDate) {
			break
		}

		windows = append(windows, Window{
			ID:          len(windows) + 1,
			InSample:    DateRange{Start: isStart, End: isEnd},
			OutOfSample: DateRange{Start: isEnd, End: oosEnd},
		})
	}

	return windows
}
