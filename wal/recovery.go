package wal

import "io"

// recoveryState names the states of the recovery state machine from spec
// §4.3: Scan -> ValidateFrames -> MaybeRepair -> RebuildIndex -> Ready.
type recoveryState int

const (
	stateScan recoveryState = iota
	stateValidateFrames
	stateMaybeRepair
	stateRebuildIndex
	stateReady
)

// recover replays the WAL file from disk into the in-memory frame log and
// index, discarding anything past the first checksum mismatch that FEC
// cannot repair (spec §4.3's recovery state machine and §8's crash
// property: "recovery discards the partial group; last committed state is
// preserved").
func (w *WAL) recover() error {
	state := stateScan
	var offset int64

	hdrBuf := make([]byte, headerSize)
	if _, err := w.file.ReadAt(hdrBuf, 0); err != nil {
		return err
	}
	h, err := decodeHeader(hdrBuf)
	if err != nil {
		return err
	}
	w.header = *h
	offset = headerSize

	s0, s1 := h.Salt1, h.Salt2
	var pendingGroup []Frame

	for {
		switch state {
		case stateScan:
			fhBuf := make([]byte, frameHeaderSize)
			n, err := w.file.ReadAt(fhBuf, offset)
			if err == io.EOF || n < frameHeaderSize {
				state = stateRebuildIndex
				continue
			}
			fh := decodeFrameHeader(fhBuf)
			pageBuf := make([]byte, w.pageSize)
			if _, err := w.file.ReadAt(pageBuf, offset+frameHeaderSize); err != nil {
				state = stateRebuildIndex
				continue
			}
			cs0, cs1 := checksum(fhBuf[:16], s0, s1)
			cs0, cs1 = checksum(pageBuf, cs0, cs1)
			if cs0 != fh.Checksum[0] || cs1 != fh.Checksum[1] {
				state = stateMaybeRepair
				continue
			}
			s0, s1 = fh.Checksum[0], fh.Checksum[1]
			f := Frame{Offset: offset, PageNo: fh.PageNo, Data: pageBuf, Commit: fh.SizeAfterCommit != 0, DBSize: fh.SizeAfterCommit}
			pendingGroup = append(pendingGroup, f)
			offset += frameHeaderSize + int64(w.pageSize)
			if f.Commit {
				for _, committed := range pendingGroup {
					w.frames = append(w.frames, committed)
					w.index[indexKey{committed.PageNo, 0}] = committed.Offset
				}
				pendingGroup = nil
			}
			state = stateValidateFrames
		case stateValidateFrames:
			state = stateScan
		case stateMaybeRepair:
			repaired, ok := w.repairGroup(pendingGroup)
			if !ok {
				state = stateRebuildIndex
				continue
			}
			for _, f := range repaired {
				w.frames = append(w.frames, f)
				w.index[indexKey{f.PageNo, 0}] = f.Offset
			}
			pendingGroup = nil
			state = stateRebuildIndex
		case stateRebuildIndex:
			w.tail = offset
			if len(w.frames) > 0 {
				last := w.frames[len(w.frames)-1]
				w.tail = last.Offset + frameHeaderSize + int64(len(last.Data))
			} else {
				w.tail = headerSize
			}
			state = stateReady
		case stateReady:
			return nil
		}
	}
}

func (w *WAL) fecSidecar() string { return w.path + ".fec" }
