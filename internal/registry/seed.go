// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package registry

import "github.com/mfvianna/shiptrace/internal/models"

// seedRow keeps the seed table readable; expanded into models.OccurrenceCode
// by SeedCodes.
type seedRow struct {
	code        string
	description string
	typ         string
	process     string
	status      models.CanonicalStatus
	severity    models.Severity
	terminal    bool
}

// sswSeed is the SSW occurrence code set. Codes, descriptions, types and
// process groupings come from the carrier's taxonomy; the canonical status,
// severity and terminal columns are the platform's classification.
//
// Invariant: a code is terminal only if its canonical status is terminal
// (delivered or returned). Write-off codes ("baixa") carry terminal severity
// for reporting but map to exception, since the platform has no cancelled
// status and the shipment did not complete its fulfillment flow.
var sswSeed = []seedRow{
	{"1", "mercadoria entregue", "entrega", "entrega", models.StatusDelivered, models.SeverityTerminal, true},
	{"2", "mercadoria pre-entregue (mobile)", "préentrega", "entrega", models.StatusOutForDelivery, models.SeverityInfo, false},
	{"3", "mercadoria devolvida ao remetente", "entrega", "devolução", models.StatusReturned, models.SeverityTerminal, true},
	{"4", "destinatario retira", "pendência cliente", "entrega", models.StatusException, models.SeverityWarning, false},
	{"5", "cliente alega mercad desacordo c/ pedido", "pendência cliente", "entrega", models.StatusException, models.SeverityWarning, false},
	{"7", "chegada no cliente destinatário", "informativa", "entrega", models.StatusOutForDelivery, models.SeverityInfo, false},
	{"9", "destinatario desconhecido", "pendência cliente", "entrega", models.StatusException, models.SeverityException, false},
	{"10", "local de entrega nao localizado", "pendência cliente", "entrega", models.StatusException, models.SeverityException, false},
	{"11", "local de entrega fechado/ausente", "pendência cliente", "entrega", models.StatusException, models.SeverityWarning, false},
	{"13", "entrega prejudicada pelo horario", "pendência transportadora", "entrega", models.StatusException, models.SeverityWarning, false},
	{"14", "nota fiscal entregue", "pendência cliente", "entrega", models.StatusException, models.SeverityWarning, false},
	{"15", "entrega agendada pelo cliente", "pendência cliente", "agendamento", models.StatusException, models.SeverityWarning, false},
	{"16", "entrega aguardando instrucoes", "pendência cliente", "entrega", models.StatusException, models.SeverityWarning, false},
	{"17", "mercadoria entregue no parceiro", "informativa", "entrega", models.StatusInTransit, models.SeverityInfo, false},
	{"18", "mercad repassada p/ prox transportadora", "entrega", "entrega", models.StatusInTransit, models.SeverityInfo, false},
	{"20", "cliente alega falta de mercadoria", "pendência transportadora", "entrega", models.StatusException, models.SeverityException, false},
	{"23", "cliente alega mercadoria avariada", "pendência transportadora", "entrega", models.StatusException, models.SeverityException, false},
	{"25", "remetente recusa receber devolução", "pendência cliente", "devolução", models.StatusException, models.SeverityWarning, false},
	{"26", "aguardando autorizacao p/ devolucao", "pendência cliente", "devolução", models.StatusException, models.SeverityWarning, false},
	{"27", "devolucao autorizada", "informativa", "devolução", models.StatusException, models.SeverityInfo, false},
	{"28", "aguardando autorizacao p/ reentrega", "pendência cliente", "reentrega", models.StatusException, models.SeverityWarning, false},
	{"31", "primeira tentativa de entrega", "pendência cliente", "reentrega", models.StatusException, models.SeverityWarning, false},
	{"32", "segunda tentativa de entrega", "pendência cliente", "reentrega", models.StatusException, models.SeverityWarning, false},
	{"33", "terceira tentativa de entrega", "pendência cliente", "reentrega", models.StatusException, models.SeverityWarning, false},
	{"34", "mercadoria em conferencia no cliente", "pendência cliente", "entrega", models.StatusException, models.SeverityWarning, false},
	{"35", "aguardando agendamento do cliente", "pendência cliente", "agendamento", models.StatusException, models.SeverityWarning, false},
	{"36", "mercad em devolucao em outra operacao", "baixa", "devolução", models.StatusReturned, models.SeverityTerminal, true},
	{"37", "entrega realizada com ressalva", "pendência transportadora", "entrega", models.StatusDelivered, models.SeverityWarning, true},
	{"38", "cliente recusa/nao pode receber mercad", "pendência cliente", "entrega", models.StatusException, models.SeverityException, false},
	{"39", "cliente recusa pagar o frete", "pendência cliente", "geral", models.StatusException, models.SeverityWarning, false},
	{"40", "frete do ctrc de origem recebido", "informativa", "geral", models.StatusInTransit, models.SeverityInfo, false},
	{"45", "carta sinistrada pendência", "cliente", "geral", models.StatusException, models.SeverityException, false},
	{"50", "falta de mercadoria", "pendência transportadora", "geral", models.StatusException, models.SeverityException, false},
	{"51", "sobra de mercadoria", "pendência transportadora", "geral", models.StatusException, models.SeverityWarning, false},
	{"52", "falta de documentacao", "pendência transportadora", "geral", models.StatusException, models.SeverityWarning, false},
	{"53", "mercadoria avariada", "pendência transportadora", "geral", models.StatusException, models.SeverityException, false},
	{"54", "embalagem avariada", "pendência transportadora", "geral", models.StatusException, models.SeverityWarning, false},
	{"55", "carga roubada", "pendência cliente", "geral", models.StatusException, models.SeverityException, false},
	{"56", "mercad retida pela fiscalizacao", "pendência cliente", "geral", models.StatusException, models.SeverityException, false},
	{"57", "greve ou paralizacao", "pendência cliente", "geral", models.StatusException, models.SeverityWarning, false},
	{"58", "mercad liberada pela fiscalizacao", "informativa", "geral", models.StatusInTransit, models.SeverityInfo, false},
	{"59", "veiculo aváriado/sinistrado", "pendência transportadora", "geral", models.StatusException, models.SeverityException, false},
	{"60", "via interditada", "pendência cliente", "geral", models.StatusException, models.SeverityWarning, false},
	{"61", "mercadoria confiscada pela fiscalização", "baixa", "finalizadora", models.StatusException, models.SeverityTerminal, false},
	{"62", "via interditada por fatores naturais", "pendência cliente", "geral", models.StatusException, models.SeverityWarning, false},
	{"65", "notific remet de envio nova mercad", "pendência transportadora", "finalizadora", models.StatusException, models.SeverityWarning, false},
	{"66", "nova mercad enviada pelo remetente", "informativa", "finalizadora", models.StatusInTransit, models.SeverityInfo, false},
	{"73", "aguardando disponibilidade de balsa", "informativa", "balsa", models.StatusInTransit, models.SeverityWarning, false},
	{"74", "primeira tentativa de coleta", "informativa", "coleta", models.StatusCreated, models.SeverityInfo, false},
	{"75", "segunda tentativa de coleta", "informativa", "coleta", models.StatusCreated, models.SeverityWarning, false},
	{"76", "terceira tentativa de coleta", "informativa", "coleta", models.StatusCreated, models.SeverityWarning, false},
	{"77", "coleta cancelada", "informativa", "coleta", models.StatusException, models.SeverityWarning, false},
	{"78", "coleta reversa realizada", "informativa", "coleta", models.StatusCollected, models.SeverityInfo, false},
	{"79", "coleta reversa agendada", "informativa", "coleta", models.StatusCreated, models.SeverityInfo, false},
	{"80", "mercadoria recebida para transporte", "informativa", "operacional", models.StatusCollected, models.SeverityInfo, false},
	{"82", "saida de unidade", "informativa", "operacional", models.StatusInTransit, models.SeverityInfo, false},
	{"83", "chegada em unidade", "informativa", "operacional", models.StatusInTransit, models.SeverityInfo, false},
	{"84", "chegada na unidade", "informativa", "operacional", models.StatusInTransit, models.SeverityInfo, false},
	{"85", "saida para entrega", "informativa", "operacional", models.StatusOutForDelivery, models.SeverityInfo, false},
	{"86", "estorno de baixa/entrega anterior", "informativa", "geral", models.StatusInTransit, models.SeverityWarning, false},
	{"91", "mercadoria em indenizacao", "pendência transportadora", "indenização", models.StatusException, models.SeverityException, false},
	{"92", "mercadoria indenizada", "baixa", "indenização", models.StatusException, models.SeverityTerminal, false},
	{"93", "ctrc emitido para efeito de frete", "baixa", "geral", models.StatusException, models.SeverityTerminal, false},
	{"94", "ctrc substituido", "baixa", "geral", models.StatusException, models.SeverityTerminal, false},
	{"99", "ctrc baixado/cancelado", "baixa", "geral", models.StatusException, models.SeverityTerminal, false},
}

// SeedCodes returns the built-in SSW occurrence code table.
func SeedCodes() []models.OccurrenceCode {
	codes := make([]models.OccurrenceCode, 0, len(sswSeed))
	for _, row := range sswSeed {
		codes = append(codes, models.OccurrenceCode{
			Code:            row.code,
			Description:     row.description,
			Type:            row.typ,
			Process:         row.process,
			CanonicalStatus: row.status,
			Severity:        row.severity,
			Terminal:        row.terminal,
		})
	}
	return codes
}
