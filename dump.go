package olefs

import "go.uber.org/zap"

// Dump logs the container's internal structures for troubleshooting.
func (s *Storage) Dump(log *zap.Logger) {
	h := s.io.header
	log.Info("header",
		zap.Uint16("b_shift", h.BShift),
		zap.Uint16("s_shift", h.SShift),
		zap.Uint32("num_bat", h.NumBat),
		zap.Uint32("dirent_start", h.DirentStart),
		zap.Uint32("threshold", h.Threshold),
		zap.Uint32("sbat_start", h.SbatStart),
		zap.Uint32("num_sbat", h.NumSbat),
		zap.Uint32("mbat_start", h.MbatStart),
		zap.Uint32("num_mbat", h.NumMbat),
	)

	log.Info("alloc tables",
		zap.Uint32("bbat_count", s.io.bbat.Count()),
		zap.Uint32("bbat_unused", s.io.bbat.UnusedCount()),
		zap.Uint32("sbat_count", s.io.sbat.Count()),
		zap.Uint32("sbat_unused", s.io.sbat.UnusedCount()),
		zap.Uint32s("sb_blocks", s.io.sbBlocks),
		zap.Uint32s("mbat_blocks", s.io.mbatBlocks),
	)

	dt := s.io.dirtree
	for i := uint32(0); i < dt.EntryCount(); i++ {
		e := dt.Entry(i)
		log.Info("dir entry",
			zap.Uint32("index", i),
			zap.Bool("valid", e.Valid),
			zap.String("name", e.Name),
			zap.Bool("dir", e.Dir),
			zap.Uint32("size", e.Size),
			zap.Uint32("start", e.Start),
			zap.Uint32("prev", e.Prev),
			zap.Uint32("next", e.Next),
			zap.Uint32("child", e.Child),
		)
	}
}
