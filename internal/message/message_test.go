package message

import (
	"encoding/binary"
	"net"
	"testing"
)

// TestDNSHeader_IsQuery validates that DNSHeader.IsQuery() correctly identifies
// query messages (QR bit = 0) per RFC 1035 §4.1.1.
//
// RFC 1035 §4.1.1: "A one bit field that specifies whether this message is a
// query (0), or a response (1)."
//
// System MUST set DNS header fields per RFC 6762 §18 (QR=0 per §18.2)
func TestDNSHeader_IsQuery(t *testing.T) {
	tests := []struct {
		name  string
		flags uint16
		want  bool
	}{
		{
			name:  "QR=0 is query per RFC 1035 §4.1.1",
			flags: 0x0000, // QR=0, all other bits 0
			want:  true,
		},
		{
			name:  "QR=1 is not query per RFC 1035 §4.1.1",
			flags: 0x8000, // QR=1 (bit 15 set)
			want:  false,
		},
		{
			name:  "QR=0 with other flags set",
			flags: 0x0100, // QR=0, RD=1
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := &DNSHeader{Flags: tt.flags}
			got := header.IsQuery()
			if got != tt.want {
				t.Errorf("DNSHeader.IsQuery() with flags=0x%04X = %v, want %v per RFC 1035 §4.1.1", tt.flags, got, tt.want)
			}
		})
	}
}

// TestDNSHeader_IsResponse validates that DNSHeader.IsResponse() correctly identifies
// response messages (QR bit = 1) per RFC 1035 §4.1.1.
//
// RFC 1035 §4.1.1: "A one bit field that specifies whether this message is a
// query (0), or a response (1)."
//
// System MUST validate received responses have QR=1 per RFC 6762 §18.2
func TestDNSHeader_IsResponse(t *testing.T) {
	tests := []struct {
		name  string
		flags uint16
		want  bool
	}{
		{
			name:  "QR=1 is response per RFC 1035 §4.1.1 / RFC 6762 §18.2",
			flags: 0x8000, // QR=1 (bit 15 set)
			want:  true,
		},
		{
			name:  "QR=0 is not response per RFC 1035 §4.1.1",
			flags: 0x0000, // QR=0
			want:  false,
		},
		{
			name:  "QR=1 with other flags set",
			flags: 0x8400, // QR=1, AA=1
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := &DNSHeader{Flags: tt.flags}
			got := header.IsResponse()
			if got != tt.want {
				t.Errorf("DNSHeader.IsResponse() with flags=0x%04X = %v, want %v per RFC 1035 §4.1.1", tt.flags, got, tt.want)
			}
		})
	}
}

// TestDNSHeader_GetRCODE validates that DNSHeader.GetRCODE() correctly extracts
// the response code from the Flags field per RFC 1035 §4.1.1.
//
// RFC 1035 §4.1.1: "Response code - this 4 bit field is set as part of responses."
// RCODE is bits 0-3 of the Flags field.
//
// System MUST ignore responses with RCODE != 0 per RFC 6762 §18.11
func TestDNSHeader_GetRCODE(t *testing.T) {
	tests := []struct {
		name  string
		flags uint16
		want  uint8
	}{
		{
			name:  "RCODE=0 (no error) per RFC 6762 §18.11",
			flags: 0x8000, // QR=1, RCODE=0
			want:  0,
		},
		{
			name:  "RCODE=1 (format error) - should be ignored per RFC 6762 §18.11",
			flags: 0x8001, // QR=1, RCODE=1
			want:  1,
		},
		{
			name:  "RCODE=2 (server failure) - should be ignored per RFC 6762 §18.11",
			flags: 0x8002, // QR=1, RCODE=2
			want:  2,
		},
		{
			name:  "RCODE=3 (name error / NXDOMAIN)",
			flags: 0x8003, // QR=1, RCODE=3
			want:  3,
		},
		{
			name:  "RCODE with other flags set",
			flags: 0x8105, // QR=1, RD=1, RCODE=5
			want:  5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := &DNSHeader{Flags: tt.flags}
			got := header.GetRCODE()
			if got != tt.want {
				t.Errorf("DNSHeader.GetRCODE() with flags=0x%04X = %d, want %d per RFC 1035 §4.1.1", tt.flags, got, tt.want)
			}
		})
	}
}

// TestDNSHeader_GetOPCODE validates that DNSHeader.GetOPCODE() correctly extracts
// the operation code from the Flags field per RFC 1035 §4.1.1.
//
// RFC 1035 §4.1.1: "A four bit field that specifies kind of query in this message."
// OPCODE is bits 11-14 of the Flags field.
//
// RFC 6762 §18.3: "In both multicast query and multicast response messages,
// the OPCODE MUST be zero on transmission."
//
// System MUST set DNS header fields per RFC 6762 §18 (OPCODE=0 per §18.3)
func TestDNSHeader_GetOPCODE(t *testing.T) {
	tests := []struct {
		name  string
		flags uint16
		want  uint8
	}{
		{
			name:  "OPCODE=0 (standard query) per RFC 6762 §18.3",
			flags: 0x0000, // OPCODE=0
			want:  0,
		},
		{
			name:  "OPCODE=1 (inverse query) - not used in mDNS",
			flags: 0x0800, // OPCODE=1 (bit 11 set)
			want:  1,
		},
		{
			name:  "OPCODE=2 (status) - not used in mDNS",
			flags: 0x1000, // OPCODE=2 (bit 12 set)
			want:  2,
		},
		{
			name:  "OPCODE with other flags set",
			flags: 0x8100, // QR=1, RD=1, OPCODE=0
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := &DNSHeader{Flags: tt.flags}
			got := header.GetOPCODE()
			if got != tt.want {
				t.Errorf("DNSHeader.GetOPCODE() with flags=0x%04X = %d, want %d per RFC 1035 §4.1.1", tt.flags, got, tt.want)
			}
		})
	}
}

// TestDNSHeader_QueryResponseSymmetry validates that IsQuery() and IsResponse()
// are mutually exclusive per RFC 1035 §4.1.1.
//
// RFC 1035 §4.1.1: QR bit is either 0 (query) or 1 (response), never both.
func TestDNSHeader_QueryResponseSymmetry(t *testing.T) {
	tests := []struct {
		name  string
		flags uint16
	}{
		{name: "QR=0", flags: 0x0000},
		{name: "QR=1", flags: 0x8000},
		{name: "QR=0 with RD", flags: 0x0100},
		{name: "QR=1 with AA", flags: 0x8400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := &DNSHeader{Flags: tt.flags}
			isQuery := header.IsQuery()
			isResponse := header.IsResponse()

			// Must be exactly one of query or response, never both, never neither
			if isQuery == isResponse {
				t.Errorf("DNSHeader with flags=0x%04X: IsQuery()=%v, IsResponse()=%v (must be mutually exclusive per RFC 1035 §4.1.1)", tt.flags, isQuery, isResponse)
			}
		})
	}
}

// TestDNSHeader_Initialization validates that DNSHeader fields can be initialized
// and read correctly.
func TestDNSHeader_Initialization(t *testing.T) {
	header := DNSHeader{
		ID:      0x1234,
		Flags:   0x8000, // QR=1 (response)
		QDCount: 1,
		ANCount: 2,
		NSCount: 0,
		ARCount: 0,
	}

	if header.ID != 0x1234 {
		t.Errorf("DNSHeader.ID = 0x%04X, want 0x1234", header.ID)
	}
	if header.Flags != 0x8000 {
		t.Errorf("DNSHeader.Flags = 0x%04X, want 0x8000", header.Flags)
	}
	if header.QDCount != 1 {
		t.Errorf("DNSHeader.QDCount = %d, want 1", header.QDCount)
	}
	if header.ANCount != 2 {
		t.Errorf("DNSHeader.ANCount = %d, want 2", header.ANCount)
	}
	if !header.IsResponse() {
		t.Error("DNSHeader.IsResponse() = false, want true")
	}
}

// TestQuestion_Initialization validates that Question fields can be initialized
// and read correctly per RFC 1035 §4.1.2.
//
// RFC 1035 §4.1.2: "The question section is used to carry the 'question' in most queries"
func TestQuestion_Initialization(t *testing.T) {
	question := Question{
		QNAME:  "printer.local",
		QTYPE:  1,      // A record
		QCLASS: 0x0001, // IN (Internet class)
	}

	if question.QNAME != "printer.local" {
		t.Errorf("Question.QNAME = %q, want %q", question.QNAME, "printer.local")
	}
	if question.QTYPE != 1 {
		t.Errorf("Question.QTYPE = %d, want 1 (A record)", question.QTYPE)
	}
	if question.QCLASS != 0x0001 {
		t.Errorf("Question.QCLASS = 0x%04X, want 0x0001 (IN class)", question.QCLASS)
	}
}

// TestAnswer_Initialization validates that Answer fields can be initialized
// and read correctly per RFC 1035 §4.1.3.
//
// RFC 1035 §4.1.3: "The answer section contains RRs that answer the question"
func TestAnswer_Initialization(t *testing.T) {
	rdata := []byte{192, 168, 1, 100} // 192.168.1.100

	answer := Answer{
		NAME:     "printer.local",
		TYPE:     1,      // A record
		CLASS:    0x0001, // IN
		TTL:      120,
		RDLENGTH: 4,
		RDATA:    rdata,
	}

	if answer.NAME != "printer.local" {
		t.Errorf("Answer.NAME = %q, want %q", answer.NAME, "printer.local")
	}
	if answer.TYPE != 1 {
		t.Errorf("Answer.TYPE = %d, want 1 (A record)", answer.TYPE)
	}
	if answer.CLASS != 0x0001 {
		t.Errorf("Answer.CLASS = 0x%04X, want 0x0001 (IN class)", answer.CLASS)
	}
	if answer.TTL != 120 {
		t.Errorf("Answer.TTL = %d, want 120", answer.TTL)
	}
	if answer.RDLENGTH != 4 {
		t.Errorf("Answer.RDLENGTH = %d, want 4", answer.RDLENGTH)
	}
	if len(answer.RDATA) != 4 {
		t.Errorf("len(Answer.RDATA) = %d, want 4", len(answer.RDATA))
	}
}

// TestDNSMessage_Initialization validates that DNSMessage fields can be initialized
// and read correctly per RFC 1035 §4.1.
//
// RFC 1035 §4.1: "All communications inside of the domain protocol are carried in a single
// format called a message."
//
// System MUST construct valid mDNS query messages per RFC 6762
// System MUST parse mDNS response messages per RFC 6762 wire format
func TestDNSMessage_Initialization(t *testing.T) {
	msg := DNSMessage{
		Header: DNSHeader{
			ID:      0,
			Flags:   0x0000, // Query: QR=0
			QDCount: 1,
			ANCount: 0,
			NSCount: 0,
			ARCount: 0,
		},
		Questions: []Question{
			{
				QNAME:  "test.local",
				QTYPE:  1,      // A
				QCLASS: 0x0001, // IN
			},
		},
		Answers:     nil,
		Authorities: nil,
		Additionals: nil,
	}

	if !msg.Header.IsQuery() {
		t.Error("DNSMessage.Header.IsQuery() = false, want true for query message")
	}
	if msg.Header.QDCount != 1 {
		t.Errorf("DNSMessage.Header.QDCount = %d, want 1", msg.Header.QDCount)
	}
	if len(msg.Questions) != 1 {
		t.Errorf("len(DNSMessage.Questions) = %d, want 1", len(msg.Questions))
	}
	if msg.Questions[0].QNAME != "test.local" {
		t.Errorf("DNSMessage.Questions[0].QNAME = %q, want %q", msg.Questions[0].QNAME, "test.local")
	}
}

// TestDNSMessage_ResponseWithAnswers validates that DNSMessage can represent
// a response with multiple answers per RFC 1035 §4.1.
//
// System MUST extract Answer section from responses
func TestDNSMessage_ResponseWithAnswers(t *testing.T) {
	msg := DNSMessage{
		Header: DNSHeader{
			ID:      0x1234,
			Flags:   0x8000, // Response: QR=1
			QDCount: 1,
			ANCount: 2,
			NSCount: 0,
			ARCount: 0,
		},
		Questions: []Question{
			{QNAME: "test.local", QTYPE: 1, QCLASS: 0x0001},
		},
		Answers: []Answer{
			{NAME: "test.local", TYPE: 1, CLASS: 0x0001, TTL: 120, RDLENGTH: 4, RDATA: []byte{192, 168, 1, 1}},
			{NAME: "test.local", TYPE: 1, CLASS: 0x0001, TTL: 120, RDLENGTH: 4, RDATA: []byte{192, 168, 1, 2}},
		},
		Authorities: nil,
		Additionals: nil,
	}

	if !msg.Header.IsResponse() {
		t.Error("DNSMessage.Header.IsResponse() = false, want true for response message")
	}
	if msg.Header.ANCount != 2 {
		t.Errorf("DNSMessage.Header.ANCount = %d, want 2", msg.Header.ANCount)
	}
	if len(msg.Answers) != 2 {
		t.Errorf("len(DNSMessage.Answers) = %d, want 2", len(msg.Answers))
	}
}

// TestParseRDATA_PTR validates parsing of PTR record RDATA per RFC 1035 §3.3.12.
//
// RFC 1035 §3.3.12: PTR RDATA contains a domain name (PTRDNAME)
//
// Unit tests for PTR RDATA parsing (valid and malformed)
func TestParseRDATA_PTR(t *testing.T) {
	tests := []struct {
		name      string
		rdata     []byte
		wantValue string
		wantError bool
	}{
		{
			name: "Valid PTR record - simple name",
			// RDATA: 7 "example" 5 "local" 0
			rdata:     []byte{7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 5, 'l', 'o', 'c', 'a', 'l', 0},
			wantValue: "example.local",
			wantError: false,
		},
		{
			name: "Valid PTR record - service instance",
			// RDATA: 8 "MyServer" 5 "_http" 4 "_tcp" 5 "local" 0
			rdata:     []byte{8, 'M', 'y', 'S', 'e', 'r', 'v', 'e', 'r', 5, '_', 'h', 't', 't', 'p', 4, '_', 't', 'c', 'p', 5, 'l', 'o', 'c', 'a', 'l', 0},
			wantValue: "MyServer._http._tcp.local",
			wantError: false,
		},
		{
			name:      "Empty RDATA",
			rdata:     []byte{},
			wantError: true,
		},
		{
			name: "Malformed PTR - missing terminator",
			// RDATA: 7 "example" (no terminator)
			rdata:     []byte{7, 'e', 'x', 'a', 'm', 'p', 'l', 'e'},
			wantError: true,
		},
		{
			name: "Malformed PTR - truncated label",
			// RDATA: 10 "exam" (label says 10 bytes but only 4 follow)
			rdata:     []byte{10, 'e', 'x', 'a', 'm'},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRDATA(12, tt.rdata) // TYPE 12 = PTR
			if tt.wantError {
				if err == nil {
					t.Errorf("ParseRDATA(PTR, %v) expected error, got nil", tt.rdata)
				}
				return
			}

			if err != nil {
				t.Errorf("ParseRDATA(PTR, %v) unexpected error: %v", tt.rdata, err)
				return
			}

			gotStr, ok := got.(string)
			if !ok {
				t.Errorf("ParseRDATA(PTR) returned type %T, want string", got)
				return
			}

			if gotStr != tt.wantValue {
				t.Errorf("ParseRDATA(PTR) = %q, want %q", gotStr, tt.wantValue)
			}
		})
	}
}

// TestParseRDATA_SRV validates parsing of SRV record RDATA per RFC 2782.
//
// RFC 2782: SRV RDATA format is:
//
//	Priority (2 bytes) | Weight (2 bytes) | Port (2 bytes) | Target (domain name)
//
// Unit tests for SRV RDATA parsing (valid and malformed)
func TestParseRDATA_SRV(t *testing.T) {
	tests := []struct {
		name      string
		rdata     []byte
		wantValue SRVData
		wantError bool
	}{
		{
			name: "Valid SRV record",
			// Priority=10, Weight=20, Port=80, Target="server.local"
			rdata: func() []byte {
				buf := make([]byte, 0, 50)
				buf = binary.BigEndian.AppendUint16(buf, 10) // Priority
				buf = binary.BigEndian.AppendUint16(buf, 20) // Weight
				buf = binary.BigEndian.AppendUint16(buf, 80) // Port
				buf = append(buf, 6, 's', 'e', 'r', 'v', 'e', 'r')
				buf = append(buf, 5, 'l', 'o', 'c', 'a', 'l', 0)
				return buf
			}(),
			wantValue: SRVData{
				Priority: 10,
				Weight:   20,
				Port:     80,
				Target:   "server.local",
			},
			wantError: false,
		},
		{
			name: "Valid SRV record - HTTP service",
			// Priority=0, Weight=0, Port=8080, Target="web.local"
			rdata: func() []byte {
				buf := make([]byte, 0, 50)
				buf = binary.BigEndian.AppendUint16(buf, 0)    // Priority
				buf = binary.BigEndian.AppendUint16(buf, 0)    // Weight
				buf = binary.BigEndian.AppendUint16(buf, 8080) // Port
				buf = append(buf, 3, 'w', 'e', 'b')
				buf = append(buf, 5, 'l', 'o', 'c', 'a', 'l', 0)
				return buf
			}(),
			wantValue: SRVData{
				Priority: 0,
				Weight:   0,
				Port:     8080,
				Target:   "web.local",
			},
			wantError: false,
		},
		{
			name:      "Empty RDATA",
			rdata:     []byte{},
			wantError: true,
		},
		{
			name: "Truncated SRV - missing target",
			// Only Priority, Weight, Port (6 bytes) - no target
			rdata: func() []byte {
				buf := make([]byte, 0, 10)
				buf = binary.BigEndian.AppendUint16(buf, 10)
				buf = binary.BigEndian.AppendUint16(buf, 20)
				buf = binary.BigEndian.AppendUint16(buf, 80)
				return buf
			}(),
			wantError: true,
		},
		{
			name: "Truncated SRV - incomplete header",
			// Only 4 bytes (need 6 for Priority+Weight+Port)
			rdata:     []byte{0, 10, 0, 20},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRDATA(33, tt.rdata) // TYPE 33 = SRV
			if tt.wantError {
				if err == nil {
					t.Errorf("ParseRDATA(SRV, %v) expected error, got nil", tt.rdata)
				}
				return
			}

			if err != nil {
				t.Errorf("ParseRDATA(SRV, %v) unexpected error: %v", tt.rdata, err)
				return
			}

			// Validate that it returned a non-nil result
			if got == nil {
				t.Errorf("ParseRDATA(SRV) returned nil")
				return
			}

			// ParseRDATA returns this package's SRVData for TYPE 33
			switch v := got.(type) {
			case SRVData:
				if v.Priority != tt.wantValue.Priority {
					t.Errorf("ParseRDATA(SRV).Priority = %d, want %d", v.Priority, tt.wantValue.Priority)
				}
				if v.Weight != tt.wantValue.Weight {
					t.Errorf("ParseRDATA(SRV).Weight = %d, want %d", v.Weight, tt.wantValue.Weight)
				}
				if v.Port != tt.wantValue.Port {
					t.Errorf("ParseRDATA(SRV).Port = %d, want %d", v.Port, tt.wantValue.Port)
				}
				if v.Target != tt.wantValue.Target {
					t.Errorf("ParseRDATA(SRV).Target = %q, want %q", v.Target, tt.wantValue.Target)
				}
			default:
				t.Errorf("ParseRDATA(SRV) returned type %T, want SRVData", v)
			}
		})
	}
}

// TestParseRDATA_TXT validates parsing of TXT record RDATA per RFC 1035 §3.3.14.
//
// RFC 1035 §3.3.14: TXT RDATA contains one or more character strings
// Each string is prefixed with a 1-byte length (0-255)
//
// Unit tests for TXT RDATA parsing (valid and malformed)
func TestParseRDATA_TXT(t *testing.T) {
	tests := []struct {
		name      string
		rdata     []byte
		wantValue []string
		wantError bool
	}{
		{
			name: "Valid TXT record - single string",
			// 1 string: "version=1.0"
			rdata:     []byte{11, 'v', 'e', 'r', 's', 'i', 'o', 'n', '=', '1', '.', '0'},
			wantValue: []string{"version=1.0"},
			wantError: false,
		},
		{
			name: "Valid TXT record - multiple strings",
			// 3 strings: "txtvers=1", "path=/api", "auth=token"
			rdata: func() []byte {
				buf := make([]byte, 0, 50)
				buf = append(buf, 9, 't', 'x', 't', 'v', 'e', 'r', 's', '=', '1')
				buf = append(buf, 9, 'p', 'a', 't', 'h', '=', '/', 'a', 'p', 'i')
				buf = append(buf, 10, 'a', 'u', 't', 'h', '=', 't', 'o', 'k', 'e', 'n')
				return buf
			}(),
			wantValue: []string{"txtvers=1", "path=/api", "auth=token"},
			wantError: false,
		},
		{
			name: "Valid TXT record - empty string",
			// 1 empty string (length=0)
			rdata:     []byte{0},
			wantValue: []string{""},
			wantError: false,
		},
		{
			name:      "Empty RDATA - no strings",
			rdata:     []byte{},
			wantValue: []string{},
			wantError: false, // Empty TXT is valid per RFC 1035
		},
		{
			name: "Malformed TXT - truncated string",
			// Length says 10 but only 5 bytes follow
			rdata:     []byte{10, 'h', 'e', 'l', 'l', 'o'},
			wantError: true,
		},
		{
			name: "Malformed TXT - second string truncated",
			// First string OK, second truncated
			rdata: func() []byte {
				buf := make([]byte, 0, 20)
				buf = append(buf, 5, 'h', 'e', 'l', 'l', 'o')
				buf = append(buf, 10, 'w', 'o', 'r') // Says 10 bytes, only 3 follow
				return buf
			}(),
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRDATA(16, tt.rdata) // TYPE 16 = TXT
			if tt.wantError {
				if err == nil {
					t.Errorf("ParseRDATA(TXT, %v) expected error, got nil", tt.rdata)
				}
				return
			}

			if err != nil {
				t.Errorf("ParseRDATA(TXT, %v) unexpected error: %v", tt.rdata, err)
				return
			}

			gotTXT, ok := got.([]string)
			if !ok {
				t.Errorf("ParseRDATA(TXT) returned type %T, want []string", got)
				return
			}

			if len(gotTXT) != len(tt.wantValue) {
				t.Errorf("ParseRDATA(TXT) returned %d strings, want %d", len(gotTXT), len(tt.wantValue))
				return
			}

			for i := range gotTXT {
				if gotTXT[i] != tt.wantValue[i] {
					t.Errorf("ParseRDATA(TXT)[%d] = %q, want %q", i, gotTXT[i], tt.wantValue[i])
				}
			}
		})
	}
}

// TestParseRDATA_A validates parsing of A record RDATA (already tested in contract tests,
// but added here for completeness).
//
// RFC 1035 §3.4.1: A RDATA contains a 32-bit IPv4 address
func TestParseRDATA_A(t *testing.T) {
	tests := []struct {
		name      string
		rdata     []byte
		wantValue net.IP
		wantError bool
	}{
		{
			name:      "Valid A record - 192.168.1.1",
			rdata:     []byte{192, 168, 1, 1},
			wantValue: net.IPv4(192, 168, 1, 1),
			wantError: false,
		},
		{
			name:      "Valid A record - 10.0.0.1",
			rdata:     []byte{10, 0, 0, 1},
			wantValue: net.IPv4(10, 0, 0, 1),
			wantError: false,
		},
		{
			name:      "Empty RDATA",
			rdata:     []byte{},
			wantError: true,
		},
		{
			name:      "Truncated A record - 3 bytes",
			rdata:     []byte{192, 168, 1},
			wantError: true,
		},
		{
			name:      "Oversized A record - 5 bytes",
			rdata:     []byte{192, 168, 1, 1, 0},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRDATA(1, tt.rdata) // TYPE 1 = A
			if tt.wantError {
				if err == nil {
					t.Errorf("ParseRDATA(A, %v) expected error, got nil", tt.rdata)
				}
				return
			}

			if err != nil {
				t.Errorf("ParseRDATA(A, %v) unexpected error: %v", tt.rdata, err)
				return
			}

			gotIP, ok := got.(net.IP)
			if !ok {
				t.Errorf("ParseRDATA(A) returned type %T, want net.IP", got)
				return
			}

			if !gotIP.Equal(tt.wantValue) {
				t.Errorf("ParseRDATA(A) = %v, want %v", gotIP, tt.wantValue)
			}
		})
	}
}

// TestParseRDATA_UnknownTypeIsOpaque validates that ParseRDATA passes
// unknown record types through as raw RDATA bytes: higher layers skip
// them while still accounting for their length.
func TestParseRDATA_UnknownTypeIsOpaque(t *testing.T) {
	tests := []struct {
		name       string
		recordType uint16
		rdata      []byte
	}{
		{
			name:       "MX record (type 15)",
			recordType: 15,
			rdata:      []byte{0, 10, 4, 'm', 'a', 'i', 'l', 0},
		},
		{
			name:       "CNAME record (type 5)",
			recordType: 5,
			rdata:      []byte{7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseRDATA(tt.recordType, tt.rdata)
			if err != nil {
				t.Fatalf("ParseRDATA(type=%d) failed: %v", tt.recordType, err)
			}
			raw, ok := parsed.([]byte)
			if !ok {
				t.Fatalf("ParseRDATA(type=%d) returned %T, want opaque []byte", tt.recordType, parsed)
			}
			if len(raw) != len(tt.rdata) {
				t.Errorf("opaque RDATA length = %d, want %d", len(raw), len(tt.rdata))
			}
		})
	}
}
