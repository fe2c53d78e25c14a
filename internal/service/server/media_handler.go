package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/vertextoedge/media-vault/internal/domain"
	"github.com/vertextoedge/media-vault/internal/domain/event"
	"github.com/vertextoedge/media-vault/internal/domain/vo"
	"github.com/vertextoedge/media-vault/internal/service/streamer"
)

// MediaService is the read path used by MediaHandler
type MediaService interface {
	Open(identity vo.Identity, name, rangeHeader string) (*streamer.Stream, error)
	List(identity vo.Identity) ([]string, error)
	ListAssets(identity vo.Identity) ([]domain.MediaAsset, error)
}

// MediaHandler serves assets of the calling identity
type MediaHandler struct {
	media      MediaService
	dispatcher event.EventDispatcher
	logger     *zap.Logger
}

// NewMediaHandler creates a new MediaHandler
func NewMediaHandler(media MediaService, dispatcher event.EventDispatcher, logger *zap.Logger) *MediaHandler {
	return &MediaHandler{
		media:      media,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

type assetView struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
}

// HandleList handles GET /media/list. With ?detail=true each entry carries size and type.
func (h *MediaHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	var body interface{}
	if detail, _ := strconv.ParseBool(r.URL.Query().Get("detail")); detail {
		assets, err := h.media.ListAssets(identity)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		body = map[string]interface{}{
			"files": lo.Map(assets, func(a domain.MediaAsset, _ int) assetView {
				return assetView{Name: a.Name, Size: a.Size, ContentType: a.ContentType}
			}),
		}
	} else {
		names, err := h.media.List(identity)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		if names == nil {
			names = []string{}
		}
		body = map[string]interface{}{"files": names}
	}

	writeJSON(w, http.StatusOK, body)
}

// HandleServe handles GET /media/{name} with an optional Range header
func (h *MediaHandler) HandleServe(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	stream, err := h.media.Open(identity, r.PathValue("name"), r.Header.Get("Range"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	defer stream.Body.Close()

	header := w.Header()
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Type", stream.Asset.ContentType)
	header.Set("Content-Length", strconv.FormatInt(stream.Length, 10))
	header.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", stream.Asset.Name))

	status := http.StatusOK
	if stream.Partial {
		header.Set("Content-Range", stream.Range.ContentRange())
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}

	n, err := copyContext(r.Context(), w, stream.Body, make([]byte, stream.BufferSize))
	if err != nil {
		// Headers are already sent; the client sees a truncated body
		h.logger.Debug("stream aborted",
			zap.String("identity", identity.String()),
			zap.String("name", stream.Asset.Name),
			zap.Int64("sent", n),
			zap.Int64("length", stream.Length),
			zap.Error(err))
	}

	h.dispatcher.Dispatch(event.NewAssetServed(identity.String(), stream.Asset.Name, n, stream.Partial))
}

// copyContext copies src to dst in offset order and stops as soon as ctx is done
func copyContext(ctx context.Context, dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	if len(buf) == 0 {
		buf = make([]byte, 32*1024)
	}

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
