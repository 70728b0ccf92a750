package webhook

import (
	"testing"

	"github.com/amifistore/cekot-sub000/internal/model"

	"github.com/stretchr/testify/require"
)

func TestParseRCPattern(t *testing.T) {
	msg := "RC=TRX2024011512345678 TrxID=998877 DATA5GB.1 SUKSES,SN: VCR-ABCD1234XYZ harga 7500 Saldo 125000 result=00"

	ev, err := Parse(msg)
	require.NoError(t, err)
	require.Equal(t, "TRX2024011512345678", ev.ProviderRef)
	require.Equal(t, model.ObservedSuccess, ev.Status)
	require.Equal(t, "VCR-ABCD1234XYZ", ev.SN)
}

func TestParseReffIDPattern(t *testing.T) {
	msg := "ReffID: TRX2024011500000001 Status: GAGAL Keterangan: tujuan salah"

	ev, err := Parse(msg)
	require.NoError(t, err)
	require.Equal(t, "TRX2024011500000001", ev.ProviderRef)
	require.Equal(t, model.ObservedFailed, ev.Status)
	require.Equal(t, "tujuan salah", ev.Keterangan)
	require.Empty(t, ev.SN)
}

func TestParseSnakeCasePattern(t *testing.T) {
	msg := "reff_id=TRX2024011500000002 status=PENDING"

	ev, err := Parse(msg)
	require.NoError(t, err)
	require.Equal(t, "TRX2024011500000002", ev.ProviderRef)
	require.Equal(t, model.ObservedPending, ev.Status)
}

func TestParseFirstPatternWins(t *testing.T) {
	// Contains both the RC= form and a trailing reff_id mention; the RC
	// pattern is first in the ladder and must win.
	msg := "RC=TRXAAA TrxID=1 PROD.2 PROSES,menunggu Saldo 5000 result=39 reff_id=TRXBBB status=GAGAL"

	ev, err := Parse(msg)
	require.NoError(t, err)
	require.Equal(t, "TRXAAA", ev.ProviderRef)
	require.Equal(t, model.ObservedProcessing, ev.Status)
}

func TestParseUnrecognized(t *testing.T) {
	for _, msg := range []string{"", "hello world", "status=SUKSES no ref here"} {
		_, err := Parse(msg)
		require.ErrorIs(t, err, ErrUnrecognizedFormat, "message %q", msg)
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]string{
		"SUKSES":     model.ObservedSuccess,
		"Success":    model.ObservedSuccess,
		"GAGAL":      model.ObservedFailed,
		"FAILED":     model.ObservedFailed,
		"PROSES":     model.ObservedProcessing,
		"PENDING":    model.ObservedPending,
		"REFUND":     model.ObservedRefunded,
		"WAT":        model.ObservedUnknown,
		"":           model.ObservedUnknown,
	}
	for raw, want := range cases {
		require.Equal(t, want, NormalizeStatus(raw), "raw %q", raw)
	}
}

func TestExtractSNLabeledForms(t *testing.T) {
	cases := map[string]string{
		"sukses SN: ABCD1234":                  "ABCD1234",
		"Serial= XYZ-99887766 terima kasih":    "XYZ-99887766",
		"isi kode: TOKEN12345678":              "TOKEN12345678",
		"voucher: V1234567890":                 "V1234567890",
		"trx berhasil ref 00AA11BB22CC sukses": "00AA11BB22CC", // bare run fallback
	}
	for in, want := range cases {
		require.Equal(t, want, ExtractSN(in), "input %q", in)
	}
}

func TestExtractSNRejectsShort(t *testing.T) {
	require.Empty(t, ExtractSN("SN: AB12"))
	require.Empty(t, ExtractSN("tidak ada serial"))
	require.Empty(t, ExtractSN(""))
}
