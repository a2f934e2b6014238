// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package normalizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/mfvianna/shiptrace/internal/models"
)

// legacyStatuses maps normalized Portuguese carrier status strings to
// canonical statuses. Keys are lowercase, accent-stripped, underscored.
var legacyStatuses = map[string]models.CanonicalStatus{
	// Direct canonical names.
	"created":          models.StatusCreated,
	"collected":        models.StatusCollected,
	"in_transit":       models.StatusInTransit,
	"out_for_delivery": models.StatusOutForDelivery,
	"delivered":        models.StatusDelivered,
	"exception":        models.StatusException,
	"returned":         models.StatusReturned,

	// Portuguese base values.
	"em_transito":         models.StatusInTransit,
	"transito":            models.StatusInTransit,
	"saiu_para_entrega":   models.StatusOutForDelivery,
	"entregue":            models.StatusDelivered,
	"postado":             models.StatusCollected,
	"coletado":            models.StatusCollected,
	"devolvido":           models.StatusReturned,
	"cancelado":           models.StatusException,
	"atrasado":            models.StatusException,
	"retido":              models.StatusException,
	"aguardando_retirada": models.StatusException,

	// Long-form values seen in Correios and SSW feeds.
	"em_transito_para_a_unidade_destino":       models.StatusInTransit,
	"em_transito_para_unidade_destino":         models.StatusInTransit,
	"objeto_saiu_para_entrega_ao_destinatario": models.StatusOutForDelivery,
	"saiu_para_entrega_ao_destinatario":        models.StatusOutForDelivery,
	"objeto_entregue_ao_destinatario":          models.StatusDelivered,
	"entregue_ao_destinatario":                 models.StatusDelivered,
	"objeto_postado":                           models.StatusCollected,
	"tentativa_de_entrega_nao_realizada":       models.StatusException,
	"tentativa_nao_realizada":                  models.StatusException,
}

// keywordStatuses matches fragments inside long free-form messages. Order
// matters: the most specific keyword is checked first.
var keywordStatuses = []struct {
	keyword string
	status  models.CanonicalStatus
}{
	{"saiu_para_entrega", models.StatusOutForDelivery},
	{"entregue", models.StatusDelivered},
	{"em_transito", models.StatusInTransit},
	{"transito", models.StatusInTransit},
	{"tentativa", models.StatusException},
	{"devolvido", models.StatusReturned},
	{"devolucao", models.StatusReturned},
}

// accentStripper removes combining marks after NFD decomposition.
var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// statusFromText folds a free-text carrier status into a canonical status.
// Returns false when nothing recognizable is found; callers fall back to
// unclassified.
func statusFromText(text string) (models.CanonicalStatus, bool) {
	if text == "" {
		return "", false
	}

	normalized := strings.ToLower(strings.TrimSpace(text))
	if stripped, _, err := transform.String(accentStripper, normalized); err == nil {
		normalized = stripped
	}
	normalized = strings.ReplaceAll(normalized, " ", "_")

	if status, ok := legacyStatuses[normalized]; ok {
		return status, true
	}
	for _, m := range keywordStatuses {
		if strings.Contains(normalized, m.keyword) {
			return m.status, true
		}
	}
	return "", false
}
