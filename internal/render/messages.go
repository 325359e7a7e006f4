// Package render builds the outbound message texts. All user-facing copy
// lives here so the pipeline stays free of formatting concerns.
package render

import (
	"fmt"
	"strings"

	"quote-agent/internal/domain"
)

const separator = "──────────────────────────────"

func price(v float64) string {
	return fmt.Sprintf("R$ %.2f", v)
}

// Welcome is sent once per local day, on the user's first message.
func Welcome() string {
	return strings.Join([]string{
		"🤖 *RADAR DE PREÇOS ATIVADO*",
		"",
		"Olá! Sou seu assistente de orçamentos. Me diga os itens que você precisa e eu comparo os preços entre as lojas parceiras.",
		"",
		"💡 *Como funciona:*",
		"• Envie a lista de itens (pode mandar em várias mensagens)",
		"• Eu monto o orçamento com a loja mais barata",
		"• Você finaliza direto por aqui",
		"",
		"O que você está precisando hoje?",
	}, "\n")
}

// Clarification asks which variation of a category the user wants, one
// numbered option per distinct variation.
func Clarification(line *domain.BasketLine) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Encontrei mais de uma opção de *%s*. Qual você prefere?\n", line.Category)
	for i, c := range line.Candidates {
		label := strings.Join(c.SpecTags, ", ")
		if label == "" {
			label = c.ItemName
		}
		fmt.Fprintf(&b, "\n%d. %s — a partir de %s", i+1, label, price(c.UnitPrice))
	}
	b.WriteString("\n\nResponda com a especificação desejada.")
	return b.String()
}

// NoItemsPrompt answers a turn where no item was recognized.
func NoItemsPrompt() string {
	return "Não consegui identificar itens na sua mensagem. Pode me dizer o nome dos produtos que você procura? Ex.: \"cimento CP-II e uma caixa d'água de 500L\"."
}

// QuoteSummary renders the full comparison with the option menu, in the
// shape the budget summary has always had: every vendor total, trophy on
// the cheapest, savings versus the runner-up.
func QuoteSummary(cmp *domain.Comparison, unavailable []*domain.BasketLine) string {
	cheapest := cmp.Cheapest()
	if cheapest == nil {
		return "❌ Nenhuma loja consegue atender todos os itens do seu orçamento no momento."
	}

	lines := []string{"📦 *Orçamento Completo:*", ""}
	for i, v := range cmp.Vendors {
		if i == 0 {
			lines = append(lines, fmt.Sprintf("🏆 *%s*: %s ⭐", v.VendorName, price(v.Total)))
		} else {
			lines = append(lines, fmt.Sprintf("🏪 %s: %s", v.VendorName, price(v.Total)))
		}
	}

	lines = append(lines, "", fmt.Sprintf("💰 *Melhor opção:* %s", cheapest.VendorName))
	if cmp.HasRunnerUp {
		lines = append(lines, fmt.Sprintf("💵 *Economia:* %s", price(cmp.SavingsVsNext)))
	}

	if len(unavailable) > 0 {
		lines = append(lines, "", unavailableNote(unavailable))
	}

	lines = append(lines, "", "*Escolha uma opção:*")
	lines = append(lines, fmt.Sprintf("1️⃣ Finalizar compra na %s", cheapest.VendorName))
	lines = append(lines, fmt.Sprintf("2️⃣ Ver detalhes da %s", cheapest.VendorName))
	if len(cmp.Vendors) > 1 {
		lines = append(lines, "3️⃣ Ver detalhes de todas as lojas")
	}
	return strings.Join(lines, "\n")
}

// BestDetails renders the cheapest vendor's line items.
func BestDetails(cmp *domain.Comparison) string {
	cheapest := cmp.Cheapest()
	if cheapest == nil {
		return "❌ Orçamento não encontrado."
	}
	lines := []string{vendorDetails(*cheapest), "", "*Escolha uma opção:*", "1️⃣ Finalizar compra", "0️⃣ Voltar ao orçamento"}
	return strings.Join(lines, "\n")
}

// AllDetails renders every eligible vendor's line items.
func AllDetails(cmp *domain.Comparison) string {
	if len(cmp.Vendors) == 0 {
		return "❌ Orçamento não encontrado."
	}
	lines := []string{"📋 *Detalhes de Todas as Lojas:*", ""}
	for i, v := range cmp.Vendors {
		if i > 0 {
			lines = append(lines, "", separator, "")
		}
		lines = append(lines, vendorDetails(v))
	}
	cheapest := cmp.Cheapest()
	lines = append(lines, "", separator, "", "*Escolha uma opção:*")
	lines = append(lines, fmt.Sprintf("1️⃣ Finalizar compra na %s", cheapest.VendorName))
	lines = append(lines, "0️⃣ Voltar ao orçamento")
	return strings.Join(lines, "\n")
}

func vendorDetails(v domain.VendorTotal) string {
	lines := []string{fmt.Sprintf("🏪 *%s* - %s:", v.VendorName, price(v.Total)), ""}
	for _, l := range v.Lines {
		if l.Quantity > 1 {
			lines = append(lines, fmt.Sprintf("• %dx %s: %s (%s cada)", l.Quantity, l.ItemName, price(l.Subtotal), price(l.UnitPrice)))
		} else {
			lines = append(lines, fmt.Sprintf("• %s: %s", l.ItemName, price(l.UnitPrice)))
		}
	}
	lines = append(lines, "", fmt.Sprintf("💰 *Total:* %s", price(v.Total)))
	return strings.Join(lines, "\n")
}

// Finalized confirms the purchase with an order reference.
func Finalized(v *domain.VendorTotal, orderRef string) string {
	return strings.Join([]string{
		"✅ *Compra finalizada!*",
		"",
		fmt.Sprintf("🏪 Loja: *%s*", v.VendorName),
		fmt.Sprintf("💰 Total: *%s*", price(v.Total)),
		fmt.Sprintf("📄 Pedido: %s", orderRef),
		"",
		"A loja entrará em contato para combinar pagamento e entrega. Obrigado!",
	}, "\n")
}

// AlreadyFinalized answers menu digits sent after a finalize.
func AlreadyFinalized() string {
	return "Seu último orçamento já foi finalizado. Me envie uma nova lista de itens para começar outro."
}

func unavailableNote(lines []*domain.BasketLine) string {
	cats := make([]string, 0, len(lines))
	for _, l := range lines {
		cats = append(cats, l.Category)
	}
	return fmt.Sprintf("⚠️ Sem ofertas no momento para: %s.", strings.Join(cats, ", "))
}

// AllUnavailable is used when every requested category had no offers.
func AllUnavailable(lines []*domain.BasketLine) string {
	return unavailableNote(lines) + "\nPode tentar descrever os itens de outra forma (nome completo, marca, unidade)?"
}

// DegradedService is sent when the catalog is unreachable after retry.
func DegradedService() string {
	return "😕 Estou com dificuldade para consultar o catálogo agora. Seus itens foram mantidos; tente novamente em instantes."
}

// GenericError is the catch-all failure reply.
func GenericError() string {
	return "Desculpe, houve um erro ao processar sua mensagem. Tente novamente."
}
