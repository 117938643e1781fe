package evidence

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/systmms/signctl/internal/policy"
	"github.com/systmms/signctl/internal/rotationengine"
)

// renderStatementPDF builds 05-rotation-statement.pdf: a one-page,
// human-readable summary of the rotation. No PDF library appears
// anywhere in the reference corpus, so this hand-rolls the minimal
// object graph a PDF 1.4 reader requires: catalog, page tree, one page,
// its content stream, and a standard Helvetica font, followed by a
// correct cross-reference table.
func renderStatementPDF(in rotationengine.EvidencePackInputs, p *policy.Policy, builtAt time.Time) []byte {
	lines := []string{
		"Rotation Statement",
		fmt.Sprintf("Tenant: %s", in.TenantID),
		fmt.Sprintf("Rotation date: %s", in.RotationDate),
		fmt.Sprintf("Policy hash: %s", p.PolicyHash),
		fmt.Sprintf("Previous handle: %s", in.OldKeyHandle),
		fmt.Sprintf("New handle: %s", in.NewKeyHandle),
		fmt.Sprintf("Canary samples verified: %d/%d", countVerified(in.Canary), len(in.Canary)),
		fmt.Sprintf("Generated: %s", builtAt.UTC().Format(time.RFC3339)),
	}
	return buildMinimalPDF(lines)
}

func countVerified(rows []rotationengine.CanaryRecord) int {
	n := 0
	for _, r := range rows {
		if r.Status == "pass" {
			n++
		}
	}
	return n
}

func buildMinimalPDF(lines []string) []byte {
	var buf bytes.Buffer
	var offsets []int

	buf.WriteString("%PDF-1.4\n")

	addObj := func(n int, body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", n, body)
	}

	addObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	addObj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	addObj(3, "<< /Type /Page /Parent 2 0 R /Resources << /Font << /F1 5 0 R >> >> "+
		"/MediaBox [0 0 612 792] /Contents 4 0 R >>")

	var content bytes.Buffer
	content.WriteString("BT /F1 12 Tf 72 720 Td 16 TL\n")
	for _, l := range lines {
		fmt.Fprintf(&content, "(%s) Tj T*\n", escapePDFString(l))
	}
	content.WriteString("ET")
	streamBody := content.String()
	addObj(4, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(streamBody), streamBody))

	addObj(5, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	xrefStart := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF", len(offsets)+1, xrefStart)

	return buf.Bytes()
}

func escapePDFString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
	return r.Replace(s)
}
