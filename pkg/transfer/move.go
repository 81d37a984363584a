package transfer

// moveItem renames one item with the backend's atomic move. Conflicts were
// resolved already, so the move always overwrites.
func (e *engine) moveItem(it *item) error {
	e.setNames(it.src, it.dst, it.data)
	if err := e.setPhase(PhaseMoving); err != nil {
		return err
	}
	e.log.Debug("moving", "source", it.src, "target", it.dst)

	skipped, err := e.attempt("move", it.src, func() error {
		return e.req.Source.Move(e.ctx, it.src, it.dst, true)
	})
	if err != nil {
		return err
	}
	if skipped {
		return nil
	}

	e.info.FileIndex += it.files
	e.info.BytesCopied = it.data
	e.info.TotalBytesCopied += it.data
	return e.setPhase(PhaseFileCompleted)
}
