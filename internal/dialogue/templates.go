package dialogue

import (
	"fmt"
	"strings"
)

// DefaultCompanyName is spoken in the greeting when none is configured.
const DefaultCompanyName = "votre grossiste pharmaceutique"

// Keyword sets matched against lowercased final transcripts. Matching is by
// substring, which tolerates the filler words around the keyword.
var (
	// finalizeKeywords move Collecting to Confirming.
	finalizeKeywords = []string{"c'est tout", "je valide", "confirme", "c'est bon", "terminé", "fini"}

	// affirmativeKeywords validate the recap in Confirming.
	affirmativeKeywords = []string{"oui", "ok", "valide", "confirme", "d'accord"}

	// additiveKeywords reopen Collecting from Confirming.
	additiveKeywords = []string{"ajoute", "aussi", "encore", "en plus"}
)

// matchesAny reports whether the lowercased text contains any keyword.
func matchesAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func greetingText(company string) string {
	if company == "" {
		company = DefaultCompanyName
	}
	return fmt.Sprintf("Bonjour, bienvenue chez %s. Vous pouvez me dicter votre commande.", company)
}

func ackText(quantity int, unit, product string) string {
	return fmt.Sprintf("Bien noté, %d %s de %s. Autre chose ?", quantity, unit, product)
}

const clarifyText = "Excusez-moi, pouvez-vous répéter le nom du produit ?"

func recapText(recap string) string {
	return fmt.Sprintf("Récapitulatif de votre commande : %s. Je valide ?", recap)
}

func completedText(orderID string) string {
	return fmt.Sprintf("Commande validée, numéro %s. Merci et bonne journée !", orderID)
}

const errorText = "Désolé, je rencontre un problème technique. Un instant..."

const transferText = "Je vous transfère à un conseiller. Un instant s'il vous plaît..."

const modifyText = "D'accord, que voulez-vous modifier ?"

const notUnderstoodText = "Je n'ai pas compris quel produit vous voulez. Pouvez-vous répéter ?"

func notFoundText(query string) string {
	return fmt.Sprintf("Je n'ai pas trouvé '%s' dans notre catalogue. Pouvez-vous préciser le nom complet ?", query)
}

func outOfStockText(product string) string {
	return fmt.Sprintf("Désolé, %s est actuellement en rupture de stock. Voulez-vous commander autre chose ?", product)
}

// formatRecap joins the sellable draft lines as "<qty> <unit> de <name>"
// fragments separated by commas. Out-of-stock lines were already announced
// as unavailable and are not read back.
func formatRecap(items []DraftItem) string {
	var parts []string
	for _, it := range items {
		if !it.InStock {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d %s de %s", it.Quantity, it.Unit, it.Product.DisplayName))
	}
	if len(parts) == 0 {
		return "Aucun produit"
	}
	return strings.Join(parts, ", ")
}
