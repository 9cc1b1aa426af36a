package compile

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
)

// buildPDF assembles a PDF with a classic cross-reference table.
// objects[i] is the body of object i+1; object 1 must be the catalog.
func buildPDF(objects ...string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

// buildObjectStreamPDF assembles a PDF 1.5 file whose page tree lives in a
// FlateDecode object stream indexed by a cross-reference stream. The tree
// carries a 612x792 media box; a zero entry in heights inherits it.
func buildObjectStreamPDF(heights ...float64) []byte {
	n := len(heights)
	streamNum := n + 3
	xrefNum := n + 4

	// Objects 2..n+2 go into the object stream.
	kids := ""
	for i := range heights {
		kids += fmt.Sprintf("%d 0 R ", i+3)
	}
	packed := []string{fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 612 792] /Resources << >> >>", kids, n)}
	for _, h := range heights {
		page := "<< /Type /Page /Parent 2 0 R"
		if h > 0 {
			page += fmt.Sprintf(" /MediaBox [0 0 612 %g]", h)
		}
		packed = append(packed, page+" >>")
	}

	var header, body bytes.Buffer
	for i, obj := range packed {
		fmt.Fprintf(&header, "%d %d ", i+2, body.Len())
		body.WriteString(obj)
		body.WriteString("\n")
	}
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	_, _ = zw.Write(append(header.Bytes(), body.Bytes()...))
	_ = zw.Close()

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.5\n")

	catalogOff := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")

	streamOff := buf.Len()
	fmt.Fprintf(&buf, "%d 0 obj\n<< /Type /ObjStm /N %d /First %d /Filter /FlateDecode /Length %d >>\nstream\n",
		streamNum, len(packed), header.Len(), compressed.Len())
	buf.Write(compressed.Bytes())
	buf.WriteString("\nendstream\nendobj\n")

	xrefOff := buf.Len()
	var entries bytes.Buffer
	entry := func(kind byte, field2 uint32, field3 uint16) {
		entries.WriteByte(kind)
		_ = binary.Write(&entries, binary.BigEndian, field2)
		_ = binary.Write(&entries, binary.BigEndian, field3)
	}
	entry(0, 0, 65535)
	entry(1, uint32(catalogOff), 0)
	for i := range packed {
		entry(2, uint32(streamNum), uint16(i))
	}
	entry(1, uint32(streamOff), 0)
	entry(1, uint32(xrefOff), 0)

	fmt.Fprintf(&buf, "%d 0 obj\n<< /Type /XRef /Size %d /W [1 4 2] /Root 1 0 R /Length %d >>\nstream\n",
		xrefNum, xrefNum+1, entries.Len())
	buf.Write(entries.Bytes())
	buf.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOff)
	return buf.Bytes()
}

var twoPagePDF = string(buildPDF(
	"<< /Type /Catalog /Pages 2 0 R >>",
	"<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 /MediaBox [0 0 612 792] /Resources << >> >>",
	"<< /Type /Page /Parent 2 0 R >>",
	"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595.28 841.89] >>",
))
