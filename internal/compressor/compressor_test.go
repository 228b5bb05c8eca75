package compressor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestCompress_SkipsInputWithinTarget(t *testing.T) {
	f := &fakeCodec{width: 400, height: 300, bytesPerPixel: 1}
	c := newFakeCompressor(f)
	in := input(20)

	res, err := c.Compress(context.Background(), in, "image/jpeg", mustOptions(t, WithTargetSizeKB(50)))
	if err != nil {
		t.Fatalf("Compress error: %v", err)
	}
	if !bytes.Equal(res.EncodedBytes, in) {
		t.Error("Expected original bytes to be returned unchanged")
	}
	if !res.KeptOriginal() || res.QualityUsed.String() != "original" {
		t.Errorf("QualityUsed = %v, want original", res.QualityUsed)
	}
	if res.CompressionRatioPercent != 0 {
		t.Errorf("CompressionRatioPercent = %v, want 0", res.CompressionRatioPercent)
	}
	if res.FinalWidth != 400 || res.FinalHeight != 300 {
		t.Errorf("Final dimensions %dx%d, want 400x300", res.FinalWidth, res.FinalHeight)
	}
	if n := len(f.encodeCalls()); n != 0 {
		t.Errorf("Expected no encodes, got %d", n)
	}
}

func TestCompress_ScenarioA(t *testing.T) {
	f := &fakeCodec{width: 2000, height: 1500, bytesPerPixel: 2}
	opts := mustOptions(t, WithTargetSizeKB(50))

	res, err := newFakeCompressor(f).Compress(context.Background(), input(3000), "image/jpeg", opts)
	if err != nil {
		t.Fatalf("Compress error: %v", err)
	}
	if res.FinalWidth >= 2000 || res.FinalHeight >= 1500 {
		t.Errorf("Dimensions not reduced: %dx%d", res.FinalWidth, res.FinalHeight)
	}
	if res.KeptOriginal() || res.QualityUsed.Value >= 1 {
		t.Errorf("Unexpected quality %v", res.QualityUsed)
	}
	if res.CompressedSizeKB > 50*1.1 {
		t.Errorf("CompressedSizeKB = %.2f, want <= 55", res.CompressedSizeKB)
	}
	if res.OutputFormat != FormatJPEG {
		t.Errorf("OutputFormat = %s, want jpeg", res.OutputFormat)
	}
	if res.Encodes != len(f.encodeCalls()) {
		t.Errorf("Encodes = %d, calls = %d", res.Encodes, len(f.encodeCalls()))
	}
}

func TestCompress_ScenarioC_DegenerateBracket(t *testing.T) {
	_, err := NewCompressionOptions(WithTargetSizeKB(50), WithQualityRange(0.5, 0.5))
	if !IsConfigError(err) {
		t.Fatalf("Expected ConfigError from constructor, got %v", err)
	}

	// Struct literals are re-validated before any work.
	f := &fakeCodec{width: 100, height: 100, bytesPerPixel: 1}
	opts := DefaultCompressionOptions()
	opts.MinQuality, opts.MaxQuality = 0.5, 0.5
	_, err = newFakeCompressor(f).Compress(context.Background(), input(100), "image/jpeg", opts)
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Field != "min_quality" {
		t.Fatalf("Expected min_quality ConfigError, got %v", err)
	}
	if n := len(f.encodeCalls()); n != 0 {
		t.Errorf("Expected no encodes, got %d", n)
	}
}

func TestCompress_ScenarioD_LadderReachesFloor(t *testing.T) {
	// 600x450 at 80 KB scales to 426x320; the ladder tries 0.7 down to 0.4
	// and stops before 0.3 because 135 px is under the floor.
	f := &fakeCodec{width: 600, height: 450, bytesPerPixel: 100}
	in := input(80)

	res, err := newFakeCompressor(f).Compress(context.Background(), in, "image/jpeg", mustOptions(t))
	if err != nil {
		t.Fatalf("Compress error: %v", err)
	}

	calls := f.encodeCalls()
	for _, c := range calls {
		if c.width < ladderFloor || c.height < ladderFloor {
			t.Errorf("Encode below floor: %dx%d", c.width, c.height)
		}
	}
	last := calls[len(calls)-1]
	if last.width != 240 || last.height != 180 || last.quality != DefaultFallbackQuality {
		t.Errorf("Last resort = %+v, want 240x180 at q=0.5", last)
	}

	// The last resort is larger than the input, so the original wins.
	if !res.KeptOriginal() {
		t.Errorf("Expected original to be kept, got %v", res.QualityUsed)
	}
	if res.CompressedSizeKB > res.OriginalSizeKB {
		t.Errorf("Result inflated: %.2f > %.2f", res.CompressedSizeKB, res.OriginalSizeKB)
	}
	if !bytes.Equal(res.EncodedBytes, in) {
		t.Error("Expected original bytes")
	}
}

func TestCompress_LastResortOverTarget(t *testing.T) {
	// Every ladder step is larger than the primary 266x200 canvas, so the
	// last resort is encoded at the primary size.
	f := &fakeCodec{width: 2000, height: 1500, bytesPerPixel: 100}

	res, err := newFakeCompressor(f).Compress(context.Background(), input(3000), "image/jpeg", mustOptions(t))
	if err != nil {
		t.Fatalf("Compress error: %v", err)
	}
	if res.TargetMet {
		t.Error("Expected TargetMet=false")
	}
	if res.KeptOriginal() {
		t.Fatal("Expected compressed result")
	}
	if res.FinalWidth != 266 || res.FinalHeight != 200 {
		t.Errorf("Final dimensions %dx%d, want 266x200", res.FinalWidth, res.FinalHeight)
	}
	if res.QualityUsed.Value != DefaultFallbackQuality {
		t.Errorf("Quality = %v, want fallback", res.QualityUsed.Value)
	}
	if res.CompressedSizeKB > res.OriginalSizeKB {
		t.Errorf("Result inflated")
	}
}

func TestCompress_Escalation(t *testing.T) {
	tests := []struct {
		name        string
		mode        EscalationMode
		wantWidth   int
		wantHeight  int
		wantQuality float64
	}{
		{"search", EscalateSearch, 800, 640, DefaultMinQuality},
		{"probe", EscalateProbe, 300, 240, DefaultFallbackQuality},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 60 KB stays within the early-exit band, so the primary search
			// runs at full size and misses.
			f := &fakeCodec{width: 1000, height: 800, bytesPerPixel: 1}
			res, err := newFakeCompressor(f).Compress(context.Background(), input(60), "image/jpeg",
				mustOptions(t, WithEscalation(tt.mode)))
			if err != nil {
				t.Fatalf("Compress error: %v", err)
			}
			if res.FinalWidth != tt.wantWidth || res.FinalHeight != tt.wantHeight {
				t.Errorf("Final dimensions %dx%d, want %dx%d", res.FinalWidth, res.FinalHeight, tt.wantWidth, tt.wantHeight)
			}
			if math.Abs(res.QualityUsed.Value-tt.wantQuality) > 1e-9 {
				t.Errorf("Quality = %v, want %v", res.QualityUsed.Value, tt.wantQuality)
			}
			if !res.TargetMet {
				t.Errorf("Expected target met, got %.2f KB", res.CompressedSizeKB)
			}
		})
	}
}

func TestCompress_SharpensSmallCanvases(t *testing.T) {
	tests := []struct {
		name string
		mode EscalationMode
		want bool
	}{
		// 800 is exactly 0.8 of the original width.
		{"at threshold", EscalateSearch, false},
		{"below threshold", EscalateProbe, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCodec{width: 1000, height: 800, bytesPerPixel: 1}
			res, err := newFakeCompressor(f).Compress(context.Background(), input(60), "image/jpeg",
				mustOptions(t, WithEscalation(tt.mode), WithSharpen(true)))
			if err != nil {
				t.Fatalf("Compress error: %v", err)
			}
			if res.Sharpened != tt.want {
				t.Errorf("Sharpened = %v, want %v", res.Sharpened, tt.want)
			}
		})
	}
}

func TestCompress_NeverInflates(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		bytesPerPixel float64
		inputKB       float64
		targetKB      float64
	}{
		{"reachable", 2000, 1500, 2, 3000, 50},
		{"unreachable", 2000, 1500, 100, 3000, 50},
		{"tiny input", 300, 200, 50, 60, 10},
		{"large canvas", 1200, 900, 5, 400, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCodec{width: tt.width, height: tt.height, bytesPerPixel: tt.bytesPerPixel}
			res, err := newFakeCompressor(f).Compress(context.Background(), input(tt.inputKB), "image/png",
				mustOptions(t, WithTargetSizeKB(tt.targetKB)))
			if err != nil {
				t.Fatalf("Compress error: %v", err)
			}
			if res.CompressedSizeKB > res.OriginalSizeKB {
				t.Errorf("CompressedSizeKB %.2f > OriginalSizeKB %.2f", res.CompressedSizeKB, res.OriginalSizeKB)
			}
			if len(res.EncodedBytes) > int(tt.inputKB*1024) {
				t.Errorf("Encoded %d bytes from %d", len(res.EncodedBytes), int(tt.inputKB*1024))
			}
		})
	}
}

func TestCompress_BoundedEncodes(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"defaults", nil},
		{"wide bracket", []Option{WithQualityRange(0, 1), WithMaxIterations(32), WithQualityTolerance(0)}},
		{"single iteration", []Option{WithMaxIterations(1)}},
		{"probe", []Option{WithEscalation(EscalateProbe)}},
		{"dense ladder", []Option{WithEscalationSteps(0.95, 0.9, 0.85, 0.8, 0.75, 0.7, 0.65, 0.6, 0.55, 0.5)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := mustOptions(t, tt.opts...)
			f := &fakeCodec{width: 1000, height: 800, bytesPerPixel: 100}
			res, err := newFakeCompressor(f).Compress(context.Background(), input(60), "image/jpeg", opts)
			if err != nil {
				t.Fatalf("Compress error: %v", err)
			}
			bound := (1+len(opts.EscalationSteps))*(opts.MaxIterations+1) + 1
			calls := len(f.encodeCalls())
			if calls > bound {
				t.Errorf("Made %d encodes, bound is %d", calls, bound)
			}
			if res.Encodes != calls {
				t.Errorf("Encodes = %d, calls = %d", res.Encodes, calls)
			}
		})
	}
}

func TestCompress_LargerTargetNeverSmaller(t *testing.T) {
	var prev float64
	for _, target := range []float64{50, 100, 200, 400} {
		f := &fakeCodec{width: 2000, height: 1500, bytesPerPixel: 2}
		res, err := newFakeCompressor(f).Compress(context.Background(), input(3000), "image/jpeg",
			mustOptions(t, WithTargetSizeKB(target)))
		if err != nil {
			t.Fatalf("target %v: %v", target, err)
		}
		if res.CompressedSizeKB < prev {
			t.Errorf("target %v produced %.2f KB, smaller than %.2f KB for a lower target", target, res.CompressedSizeKB, prev)
		}
		prev = res.CompressedSizeKB
	}
}

func TestCompress_FormatSelection(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		policy   FormatPolicy
		want     Format
	}{
		{"auto png to jpeg", "image/png", AutoFormat(), FormatJPEG},
		{"auto webp kept", "image/webp", AutoFormat(), FormatWebP},
		{"auto heic to jpeg", "image/heic", AutoFormat(), FormatJPEG},
		{"fixed png", "image/jpeg", FixedFormat(FormatPNG), FormatPNG},
		{"fixed webp", "image/png", FixedFormat(FormatWebP), FormatWebP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCodec{width: 2000, height: 1500, bytesPerPixel: 2}
			res, err := newFakeCompressor(f).Compress(context.Background(), input(3000), tt.mimeType,
				mustOptions(t, WithOutputFormat(tt.policy)))
			if err != nil {
				t.Fatalf("Compress error: %v", err)
			}
			if res.OutputFormat != tt.want {
				t.Errorf("OutputFormat = %s, want %s", res.OutputFormat, tt.want)
			}
			for _, c := range f.encodeCalls() {
				if c.format != tt.want {
					t.Fatalf("Encoded as %s, want %s", c.format, tt.want)
				}
			}
		})
	}
}

func TestCompress_EncodeFailures(t *testing.T) {
	t.Run("primary search fails", func(t *testing.T) {
		f := &fakeCodec{width: 1000, height: 800, bytesPerPixel: 1,
			failEncode: func(c encodeCall) bool { return c.width == 1000 }}
		res, err := newFakeCompressor(f).Compress(context.Background(), input(60), "image/jpeg", mustOptions(t))
		if err != nil {
			t.Fatalf("Compress error: %v", err)
		}
		if res.FinalWidth != 800 {
			t.Errorf("FinalWidth = %d, want 800", res.FinalWidth)
		}
	})

	t.Run("encode after a fit fails", func(t *testing.T) {
		// q=0.51 fits the target at 1000x1000, the next quality errors.
		n := 0
		f := &fakeCodec{width: 1000, height: 1000, bytesPerPixel: 0.06,
			failEncode: func(encodeCall) bool { n++; return n == 2 }}
		res, err := newFakeCompressor(f).Compress(context.Background(), input(60), "image/jpeg", mustOptions(t))
		if err != nil {
			t.Fatalf("Compress error: %v", err)
		}
		if res.FinalWidth != 1000 || res.FinalHeight != 1000 || !res.TargetMet {
			t.Errorf("Got %dx%d target_met=%v, want full resolution within target", res.FinalWidth, res.FinalHeight, res.TargetMet)
		}
		if res.QualityUsed.Value < 0.51 || res.QualityUsed.Value >= 0.715 {
			t.Errorf("QualityUsed = %v, want within [0.51, 0.715)", res.QualityUsed.Value)
		}
	})

	t.Run("ladder step fails", func(t *testing.T) {
		f := &fakeCodec{width: 1000, height: 800, bytesPerPixel: 1,
			failEncode: func(c encodeCall) bool { return c.width == 800 }}
		res, err := newFakeCompressor(f).Compress(context.Background(), input(60), "image/jpeg", mustOptions(t))
		if err != nil {
			t.Fatalf("Compress error: %v", err)
		}
		if res.FinalWidth != 700 || !res.TargetMet {
			t.Errorf("Got %dx%d target_met=%v, want 700 wide within target", res.FinalWidth, res.FinalHeight, res.TargetMet)
		}
	})

	t.Run("everything fails", func(t *testing.T) {
		f := &fakeCodec{width: 1000, height: 800, bytesPerPixel: 1,
			failEncode: func(encodeCall) bool { return true }}
		_, err := newFakeCompressor(f).Compress(context.Background(), input(60), "image/jpeg", mustOptions(t))
		var ee *EncodeError
		if !errors.As(err, &ee) {
			t.Fatalf("Expected EncodeError, got %v", err)
		}
		if ee.Quality != DefaultFallbackQuality {
			t.Errorf("EncodeError quality = %v, want last resort", ee.Quality)
		}
	})
}

func TestCompress_DecodeErrors(t *testing.T) {
	tests := []struct {
		name     string
		codec    *fakeCodec
		data     []byte
		mimeType string
		wantIs   error
	}{
		{"empty input", &fakeCodec{width: 10, height: 10}, nil, "image/jpeg", ErrEmptyInput},
		{"unknown type", &fakeCodec{width: 10, height: 10}, []byte("hello world"), "application/x-foo", ErrUnsupportedFormat},
		{"decoder failure", &fakeCodec{decodeErr: errors.New("corrupt")}, input(100), "image/jpeg", nil},
		{"empty bounds", &fakeCodec{width: 0, height: 0}, input(100), "image/jpeg", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newFakeCompressor(tt.codec).Compress(context.Background(), tt.data, tt.mimeType, mustOptions(t))
			if !IsDecodeError(err) {
				t.Fatalf("Expected DecodeError, got %v", err)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("Expected %v in chain, got %v", tt.wantIs, err)
			}
		})
	}
}

func TestCompress_DetectsFormatWhenMimeMissing(t *testing.T) {
	f := &fakeCodec{width: 400, height: 300, bytesPerPixel: 1}
	data := append([]byte("\x89PNG\r\n\x1a\n"), input(10)...)
	res, err := newFakeCompressor(f).Compress(context.Background(), data, "", mustOptions(t))
	if err != nil {
		t.Fatalf("Compress error: %v", err)
	}
	if res.OutputFormat != FormatPNG {
		t.Errorf("OutputFormat = %s, want png for kept original", res.OutputFormat)
	}
}

func TestCompress_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeCodec{width: 400, height: 300, bytesPerPixel: 1}
	_, err := newFakeCompressor(f).Compress(ctx, input(100), "image/jpeg", mustOptions(t))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestCompressMany(t *testing.T) {
	f := &fakeCodec{width: 400, height: 300, bytesPerPixel: 1}
	inputs := []Input{
		{Name: "a.jpg", Data: input(20), MimeType: "image/jpeg"},
		{Name: "b.jpg", Data: nil, MimeType: "image/jpeg"},
		{Name: "c.jpg", Data: input(30), MimeType: "image/jpeg"},
	}

	type progress struct {
		percent          float64
		completed, total int
	}
	var got []progress
	results := newFakeCompressor(f).CompressMany(context.Background(), inputs, mustOptions(t),
		func(percent float64, completed, total int) {
			got = append(got, progress{percent, completed, total})
		})

	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if !results[0].Success() || !results[2].Success() {
		t.Error("Expected items a and c to succeed")
	}
	if results[1].Success() || !IsDecodeError(results[1].Err) {
		t.Errorf("Expected item b to fail with DecodeError, got %v", results[1].Err)
	}
	for i, r := range results {
		if r.Name != inputs[i].Name {
			t.Errorf("results[%d].Name = %q, want %q", i, r.Name, inputs[i].Name)
		}
	}

	if len(got) != 3 {
		t.Fatalf("Expected 3 progress calls, got %d", len(got))
	}
	for i, p := range got {
		if p.completed != i+1 || p.total != 3 {
			t.Errorf("progress[%d] = %+v", i, p)
		}
		want := float64(i+1) / 3 * 100
		if math.Abs(p.percent-want) > 1e-9 {
			t.Errorf("progress[%d].percent = %v, want %v", i, p.percent, want)
		}
	}
}

func TestCompressMany_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeCodec{width: 400, height: 300, bytesPerPixel: 1}
	results := newFakeCompressor(f).CompressMany(ctx, []Input{
		{Name: "a.jpg", Data: input(20), MimeType: "image/jpeg"},
		{Name: "b.jpg", Data: input(20), MimeType: "image/jpeg"},
	}, mustOptions(t), nil)

	for _, r := range results {
		if !errors.Is(r.Err, context.Canceled) {
			t.Errorf("%s: expected context.Canceled, got %v", r.Name, r.Err)
		}
	}
}

func TestQuality_JSON(t *testing.T) {
	tests := []struct {
		q    Quality
		want string
	}{
		{OriginalQuality, `"original"`},
		{Quality{Value: 0.456789}, `0.46`},
		{Quality{Value: 0.5}, `0.5`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.q)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != tt.want {
			t.Errorf("Marshal(%+v) = %s, want %s", tt.q, b, tt.want)
		}

		var back Quality
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("Unmarshal(%s): %v", b, err)
		}
		if back.Original != tt.q.Original || back.String() != tt.q.String() {
			t.Errorf("Unmarshal(%s) = %+v", b, back)
		}
	}

	var q Quality
	if err := json.Unmarshal([]byte(`"best"`), &q); err == nil {
		t.Error("Expected error for unknown quality string")
	}
}

func TestCompressionRatio(t *testing.T) {
	if got := compressionRatio(250, 1000); got != 75 {
		t.Errorf("compressionRatio(250, 1000) = %v, want 75", got)
	}
	if got := compressionRatio(1, 3); got != 66.67 {
		t.Errorf("compressionRatio(1, 3) = %v, want 66.67", got)
	}
	if got := compressionRatio(0, 0); got != 0 {
		t.Errorf("compressionRatio(0, 0) = %v, want 0", got)
	}
}
