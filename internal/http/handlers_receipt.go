package http

import (
	"io"
	"log/slog"
	"net/http"

	"kakeibo/internal/core"
	"kakeibo/internal/extract"
)

// maxReceiptBytes caps uploaded receipt photos at 10 MiB.
const maxReceiptBytes = 10 << 20

type prefillPartial struct {
	Date    string
	Memo    string
	Amount  int64
	Warning string
}

// handleScanReceipt extracts entry fields from an uploaded receipt
// photo and returns pre-filled form inputs. Extraction failure is not
// an error state for the user: the form comes back with defaults and a
// warning so the entry can be typed in by hand.
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.partialIdentity(w, r); !ok {
		return
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.extractor == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`<div class="error">レシート読み取りは設定されていません</div>`))
		return
	}

	if err := r.ParseMultipartForm(maxReceiptBytes); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<div class="error">画像をアップロードできませんでした</div>`))
		return
	}

	file, header, err := r.FormFile("receipt")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<div class="error">レシート画像を選択してください</div>`))
		return
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, maxReceiptBytes))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<div class="error">画像を読み込めませんでした</div>`))
		return
	}

	today := core.Today()
	fields, err := s.extractor.Extract(r.Context(), image, header.Header.Get("Content-Type"))
	if err != nil {
		slog.WarnContext(r.Context(), "Receipt extraction failed, falling back to defaults",
			"error", err,
			"filename", header.Filename)
		p := extract.Fields{}.Normalize(today)
		s.render(w, r, "entry_prefill.html", prefillPartial{
			Date:    p.Date.String(),
			Memo:    p.Memo,
			Amount:  p.Amount.Yen,
			Warning: "読み取れませんでした。手入力してください",
		})
		return
	}

	p := fields.Normalize(today)
	s.render(w, r, "entry_prefill.html", prefillPartial{
		Date:   p.Date.String(),
		Memo:   p.Memo,
		Amount: p.Amount.Yen,
	})
}
