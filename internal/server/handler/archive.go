package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/marketpool/settlement/internal/domain"
)

// ArchiveHandler serves archived settled-market ledgers from object storage.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler with the given reader and
// logger.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:  blobs,
		logger: logger,
	}
}

// ListArchives returns metadata for every archived ledger.
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	infos, err := h.blobs.List(r.Context(), "settled/")
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to list archives")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": infos})
}

// GetArchive streams one archived ledger document.
// GET /api/archives/{id}
func (h *ArchiveHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	body, err := h.blobs.Get(r.Context(), "settled/"+id+".json")
	if err != nil {
		writeDomainError(h.logger, w, r, err, "failed to get archive")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive stream interrupted",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}
