package transfer

// onError applies the error mode to a failed operation. In query mode the
// handler picks the action; otherwise the request is aborted.
func (e *engine) onError(err error) ErrorAction {
	if e.ctx.Err() != nil || e.req.ErrorMode != ErrorModeQuery {
		return ErrorAbort
	}
	e.info.Status = StatusBackendError
	action := e.handler.Error(e.snapshot(), err)
	e.info.Status = StatusOk
	return action
}

// fatal converts an aborting error into the error Transfer returns.
func (e *engine) fatal(err error) error {
	if e.ctx.Err() != nil {
		return ErrInterrupted
	}
	return err
}

// attempt runs fn until it succeeds or the error policy stops retrying.
// skipped reports that the caller chose to skip the current item.
func (e *engine) attempt(op, path string, fn func() error) (skipped bool, err error) {
	for {
		if err := e.interrupted(); err != nil {
			return false, err
		}
		ferr := fn()
		if ferr == nil {
			return false, nil
		}
		ferr = backendError(op, path, ferr)
		switch e.onError(ferr) {
		case ErrorRetry:
			e.log.Debug("retrying", "op", op, "path", path, "error", ferr)
			continue
		case ErrorSkip:
			e.log.Debug("skipping after error", "op", op, "path", path, "error", ferr)
			return true, nil
		default:
			return false, e.fatal(ferr)
		}
	}
}
