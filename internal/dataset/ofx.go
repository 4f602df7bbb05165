package dataset

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"

	"github.com/Veraticus/the-spice-must-score/internal/model"
)

var (
	severityPattern = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	openTagPattern  = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

var cardPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"CARD PAYMENT TO ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
}

var genericNames = map[string]bool{
	"DEBIT":           true,
	"CREDIT":          true,
	"PURCHASE":        true,
	"PAYMENT":         true,
	"POS TRANSACTION": true,
	"CARD PURCHASE":   true,
}

// ofxCategories labels the few transaction types whose category is implied by the bank.
var ofxCategories = map[string]string{
	"INT": "Interest",
	"FEE": "Bank Fees",
	"ATM": "Cash & ATM",
}

// LoadOFX reads a bank or credit card statement file.
func LoadOFX(ctx context.Context, path string) ([]model.Record, error) {
	// #nosec G304 - path is supplied by the operator
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Warn("failed to close OFX file", "path", path, "error", closeErr)
		}
	}()
	return ReadOFX(ctx, f)
}

// ReadOFX parses OFX/QFX content. Negative amounts are debits.
func ReadOFX(ctx context.Context, r io.Reader) ([]model.Record, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	records := []model.Record{}
	var bankStmts, cardStmts int
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok && stmt.BankTranList != nil {
			bankStmts++
			records = append(records, convertTransactions(stmt.BankTranList.Transactions)...)
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok && stmt.BankTranList != nil {
			cardStmts++
			records = append(records, convertTransactions(stmt.BankTranList.Transactions)...)
		}
	}

	slog.Info("parsed OFX file",
		"transactions", len(records),
		"bank_statements", bankStmts,
		"card_statements", cardStmts)
	return records, nil
}

// preprocessOFX repairs mixed-case severities and SGML tags missing their closing bracket.
func preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityPattern.ReplaceAllStringFunc(content, strings.ToUpper)
	return openTagPattern.ReplaceAllString(content, "$1>")
}

func convertTransactions(txns []ofxgo.Transaction) []model.Record {
	records := make([]model.Record, 0, len(txns))
	for _, tx := range txns {
		amount, _ := tx.TrnAmt.Float64()

		r := model.Record{
			ID:          string(tx.FiTID),
			Merchant:    merchantName(tx),
			Description: strings.TrimSpace(string(tx.Name)),
			Amount:      amount,
			Direction:   model.DirectionCredit,
			Date:        tx.DtPosted.Format("2006-01-02"),
			Category:    ofxCategories[tx.TrnType.String()],
		}
		if amount < 0 {
			r.Amount = -amount
			r.Direction = model.DirectionDebit
		}
		if memo := strings.TrimSpace(string(tx.Memo)); memo != "" && memo != r.Description {
			r.Description = strings.TrimSpace(r.Description + " " + memo)
		}
		records = append(records, r)
	}
	return records
}

// merchantName prefers PAYEE, then NAME, then MEMO when NAME is generic,
// with card-network prefixes and leading MM/DD dates removed.
func merchantName(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return strings.TrimSpace(string(tx.Payee.Name))
	}

	name := strings.TrimSpace(string(tx.Name))
	if tx.Memo != "" && genericNames[strings.ToUpper(name)] {
		name = strings.TrimSpace(string(tx.Memo))
	}

	upper := strings.ToUpper(name)
	for _, prefix := range cardPrefixes {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}

	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}
	return name
}
