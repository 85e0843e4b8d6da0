package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/furnishop-system/internal/web3"
)

const signatureHeader = "X-Signature"

type webhookPayload struct {
	TxHash string `json:"tx_hash"`
	Status string `json:"status"`
}

// PaymentWebhook принимает уведомление внешнего сервиса мониторинга о платеже.
// Тело запроса должно быть подписано HMAC-SHA256 с общим секретом; уведомление
// без корректной подписи отклоняется до разбора содержимого.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	defer r.Body.Close()

	if !h.verifySignature(body, r.Header.Get(signatureHeader)) {
		h.logger.Warn("webhook signature rejected",
			zap.String("remote", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "invalid_signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	if payload.TxHash == "" {
		writeError(w, http.StatusBadRequest, "tx_hash_required")
		return
	}

	if payload.Status != "" && payload.Status != "confirmed" {
		// Прочие статусы принимаются к сведению без изменения реестра.
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	if err := h.payments.ConfirmFromWebhook(r.Context(), payload.TxHash); err != nil {
		if errors.Is(err, web3.ErrTxNotFound) {
			writeError(w, http.StatusNotFound, "tx_not_found")
			return
		}
		h.logger.Error("webhook confirmation error", zap.Error(err), zap.String("tx_hash", payload.TxHash))
		writeError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// verifySignature сверяет подпись тела запроса с общим секретом.
// Пустой настроенный секрет закрывает приём уведомлений полностью.
func (h *Handler) verifySignature(body []byte, signature string) bool {
	if h.webhookSecret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}
