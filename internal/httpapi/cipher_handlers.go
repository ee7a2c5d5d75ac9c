package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"visitasegura/go-backend/internal/securestore"
	"visitasegura/go-backend/pkg/models"
)

type processQRRequest struct {
	DatosQR *models.Visitor `json:"datosQR"`
	// URLQR is the raw text of the ID card QR, used when the scanner did not parse it.
	URLQR string `json:"urlQR"`
}

type decryptRequest struct {
	DatosCifrados string `json:"datosCifrados"`
}

type cipherTestRequest struct {
	Datos json.RawMessage `json:"datos"`
}

type validateQRRequest struct {
	QR string `json:"qr"`
}

func (s *Server) handleProcessQR(w http.ResponseWriter, r *http.Request) {
	var req processQRRequest
	if !decodeBody(w, r, &req) {
		return
	}
	visitor, ok := s.visitorFromRequest(w, req)
	if !ok {
		return
	}

	text, err := s.cipher.EncryptForStorage(visitor)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "encrypt visitor failed", "component", "httpapi", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorBody("Error procesando cifrado"))
		return
	}
	attrs := []any{"component", "httpapi", "run", visitor.Run, "size", len(text)}
	if p, ok := VerifiedPayload(r.Context()); ok {
		if action, ok := p.Fields.Get("accion"); ok {
			attrs = append(attrs, "accion", action)
		}
	}
	s.logger.InfoContext(r.Context(), "visitor payload encrypted", attrs...)

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"datosCifrados": text,
		"metadata": map[string]any{
			"timestamp": s.now().UTC().Format(time.RFC3339Nano),
			"algoritmo": strings.ToUpper(s.cipher.Algorithm()),
			"tamanio":   len(text),
		},
	})
}

func (s *Server) visitorFromRequest(w http.ResponseWriter, req processQRRequest) (models.Visitor, bool) {
	if raw := strings.TrimSpace(req.URLQR); raw != "" {
		v, err := models.VisitorFromCardURL(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("El QR no corresponde a una cédula válida"))
			return models.Visitor{}, false
		}
		return v, true
	}
	if req.DatosQR == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Se requieren datos del QR escaneado en 'datosQR'"))
		return models.Visitor{}, false
	}
	if missing := req.DatosQR.MissingFields(); len(missing) > 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("Datos de QR incompletos. Faltan: "+strings.Join(missing, ", ")))
		return models.Visitor{}, false
	}
	return models.NormalizeVisitor(*req.DatosQR), true
}

func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	var req decryptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.DatosCifrados) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Se requieren 'datosCifrados' para descifrar"))
		return
	}
	var out map[string]any
	if err := s.cipher.DecryptFromStorage(req.DatosCifrados, &out); err != nil {
		s.logger.WarnContext(r.Context(), "decrypt rejected", "component", "httpapi", "operation", "descifrar")
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("No fue posible descifrar los datos"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":               true,
		"datosDescifrados": out,
		"timestamp":        s.now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleCipherStatus(w http.ResponseWriter, _ *http.Request) {
	sample := map[string]any{"test": "cifrado_funcional", "timestamp": s.now().UnixMilli()}
	working := false
	if text, err := s.cipher.EncryptForStorage(sample); err == nil {
		var back map[string]any
		if err := s.cipher.DecryptFromStorage(text, &back); err == nil {
			working = back["test"] == sample["test"]
		}
	}
	status, estado, test := http.StatusOK, "activo", "exitoso"
	if !working {
		status, estado, test = http.StatusInternalServerError, "error", "fallido"
	}
	writeJSON(w, status, map[string]any{
		"servicio":  "cifrado",
		"estado":    estado,
		"algoritmo": strings.ToUpper(s.cipher.Algorithm()),
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
		"test":      test,
		"detalles": map[string]any{
			"claveConfigurada": s.cipher.KeyLength() > 0,
			"longitudClave":    s.cipher.KeyLength(),
		},
	})
}

func (s *Server) handleCipherTest(w http.ResponseWriter, r *http.Request) {
	var req cipherTestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Datos) == 0 || string(req.Datos) == "null" {
		writeJSON(w, http.StatusBadRequest, errorBody("Se requiere campo 'datos'"))
		return
	}
	text, err := s.cipher.EncryptForStorage(req.Datos)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody("Error en prueba de cifrado"))
		return
	}
	var back json.RawMessage
	result := "fallido"
	if err := s.cipher.DecryptFromStorage(text, &back); err == nil && sameJSON(req.Datos, back) {
		result = "exitoso"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"test":            "cifrado-descifrado",
		"resultado":       result,
		"longitudCifrado": len(text),
	})
}

func (s *Server) handleIssueQR(w http.ResponseWriter, r *http.Request) {
	var req processQRRequest
	if !decodeBody(w, r, &req) {
		return
	}
	visitor, ok := s.visitorFromRequest(w, req)
	if !ok {
		return
	}
	token, err := s.cipher.EncryptForScannable(visitor)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "issue scannable failed", "component", "httpapi", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorBody("Error generando QR"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "qr": token})
}

func (s *Server) handleValidateQR(w http.ResponseWriter, r *http.Request) {
	var req validateQRRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.QR) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Se requiere campo 'qr'"))
		return
	}
	var visitor models.Visitor
	issued, err := s.cipher.DecryptFromScannable(req.QR, &visitor)
	switch {
	case errors.Is(err, securestore.ErrExpiredScannable):
		writeJSON(w, http.StatusGone, errorBody("QR expirado"))
		return
	case err != nil:
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("QR inválido"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"datos":   visitor,
		"emitido": issued.UTC().Format(time.RFC3339Nano),
	})
}

func sameJSON(a, b []byte) bool {
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	ca, _ := json.Marshal(va)
	cb, _ := json.Marshal(vb)
	return bytes.Equal(ca, cb)
}
