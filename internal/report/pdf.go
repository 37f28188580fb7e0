package report

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const txExplorerURL = "https://gnosisscan.io/tx/"

// RenderPDF lays the report out on A4 pages: title, parameters, wallet
// addresses, then one section per transaction type with a table (or a
// placeholder when the period holds no rows of that type).
func RenderPDF(r *Report, sections []TxType, showTxColumn bool) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("YAM transactions report", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "YAM TRANSACTIONS REPORT", "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 10)
	wording := "address"
	if len(r.UserAddresses) > 1 {
		wording = "addresses"
	}
	pdf.MultiCell(0, 5, fmt.Sprintf("All YAM transactions between %s and %s for the following wallet %s:", r.StartDate, r.EndDate, wording), "", "L", false)
	pdf.SetFont("Courier", "", 9)
	for _, addr := range r.UserAddresses {
		pdf.CellFormat(0, 5, addr, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	for _, section := range sections {
		switch section {
		case TxBuy:
			writeBuySellSection(pdf, "BUY Transactions", r.Buy, FormatNumber(r.TotalBuyAmount), FormatNumber(r.TotalBuyPrice), showTxColumn)
			pdf.AddPage()
		case TxSell:
			writeBuySellSection(pdf, "SELL Transactions", r.Sell, FormatNumber(r.TotalSellAmount), FormatNumber(r.TotalSellPrice), showTxColumn)
			pdf.AddPage()
		case TxExchange:
			writeExchangeSection(pdf, r.Exchange, showTxColumn)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func writeBuySellSection(pdf *gofpdf.Fpdf, title string, rows []Row, totalAmount, totalPrice string, showTxColumn bool) {
	writeSectionTitle(pdf, title)
	if len(rows) == 0 {
		noTransactionLine(pdf, title)
		return
	}

	headers := []string{"Timestamp", "Type", "Realtoken name", "Amount", "Price/token", "Payment token", "Total price"}
	widths := []float64{28, 12, 50, 18, 20, 28, 20}
	if showTxColumn {
		headers = append(headers, "Tx")
		widths = append(widths, 10)
	}
	writeHeaderRow(pdf, headers, widths)

	pdf.SetFont("Helvetica", "", 8)
	for _, row := range rows {
		cells := []string{
			row.Timestamp,
			string(row.Type),
			row.RealtokenName,
			FormatNumber(row.Amount),
			FormatNumber(row.PricePerToken),
			row.PaymentToken,
			FormatNumber(row.TotalPrice),
		}
		writeDataRow(pdf, cells, widths, txLink(row, showTxColumn))
	}

	pdf.SetFont("Helvetica", "B", 8)
	totals := []string{"Total", "", "", totalAmount, "", "", totalPrice}
	if showTxColumn {
		totals = append(totals, "")
	}
	for i, cell := range totals {
		pdf.CellFormat(widths[i], 6, cell, "T", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)
}

func writeExchangeSection(pdf *gofpdf.Fpdf, rows []Row, showTxColumn bool) {
	writeSectionTitle(pdf, "EXCHANGE Transactions")
	if len(rows) == 0 {
		noTransactionLine(pdf, "EXCHANGE Transactions")
		return
	}

	headers := []string{"Timestamp", "Type", "Amount", "Token bought", "Amount", "Token sold", "Rate"}
	widths := []float64{28, 16, 18, 40, 18, 40, 16}
	if showTxColumn {
		headers = append(headers, "Tx")
		widths = append(widths, 10)
	}
	writeHeaderRow(pdf, headers, widths)

	pdf.SetFont("Helvetica", "", 8)
	for _, row := range rows {
		cells := []string{
			row.Timestamp,
			string(row.Type),
			FormatNumber(row.AmountBought),
			row.TokenBought,
			FormatNumber(row.AmountSold),
			row.TokenSold,
			FormatNumber(row.Rate),
		}
		writeDataRow(pdf, cells, widths, txLink(row, showTxColumn))
	}
}

func writeSectionTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "BU", 12)
	pdf.CellFormat(0, 8, title, "", 1, "L", false, 0, "")
	pdf.Ln(1)
}

func noTransactionLine(pdf *gofpdf.Fpdf, title string) {
	kind := "buy"
	switch title {
	case "SELL Transactions":
		kind = "sell"
	case "EXCHANGE Transactions":
		kind = "exchange"
	}
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("No %s transaction for this period of time", kind), "", 1, "L", false, 0, "")
}

func writeHeaderRow(pdf *gofpdf.Fpdf, headers []string, widths []float64) {
	pdf.SetFont("Helvetica", "B", 8)
	pdf.SetFillColor(230, 230, 230)
	for i, header := range headers {
		pdf.CellFormat(widths[i], 6, header, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
}

func writeDataRow(pdf *gofpdf.Fpdf, cells []string, widths []float64, link string) {
	for i, cell := range cells {
		pdf.CellFormat(widths[i], 6, cell, "B", 0, "L", false, 0, "")
	}
	if link != "" {
		pdf.SetTextColor(0, 0, 200)
		pdf.CellFormat(widths[len(widths)-1], 6, "URL", "B", 0, "L", false, 0, link)
		pdf.SetTextColor(0, 0, 0)
	}
	pdf.Ln(-1)
}

func txLink(row Row, showTxColumn bool) string {
	if !showTxColumn {
		return ""
	}
	return txExplorerURL + row.TxHash
}
