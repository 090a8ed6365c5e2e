// Package export renders a room's visible operations to a PDF page.
package export

import (
	"io"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"drawsync-server/domain"
)

const ToolEraser = "eraser"

// WritePDF replays ops as connected line segments on a width x height page
// (points). Undone operations are skipped and eraser strokes paint white.
func WritePDF(w io.Writer, ops []domain.Operation, width, height float64) error {
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: width, Ht: height},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	pdf.SetLineCapStyle("round")
	pdf.SetLineJoinStyle("round")

	for _, op := range ops {
		if op.Undone || len(op.Points) == 0 {
			continue
		}
		r, g, b := ParseColor(op.Color)
		if op.Tool == ToolEraser {
			r, g, b = 255, 255, 255
		}
		lineWidth := op.Width
		if lineWidth <= 0 {
			lineWidth = 1
		}

		if len(op.Points) == 1 {
			p := op.Points[0]
			pdf.SetFillColor(r, g, b)
			pdf.Circle(p.X, p.Y, lineWidth/2, "F")
			continue
		}

		pdf.SetDrawColor(r, g, b)
		pdf.SetLineWidth(lineWidth)
		for i := 1; i < len(op.Points); i++ {
			from, to := op.Points[i-1], op.Points[i]
			pdf.Line(from.X, from.Y, to.X, to.Y)
		}
	}

	return pdf.Output(w)
}

// ParseColor accepts #RGB and #RRGGBB. Anything else is black.
func ParseColor(s string) (r, g, b int) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return 0, 0, 0
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return int(v >> 16 & 0xFF), int(v >> 8 & 0xFF), int(v & 0xFF)
}
