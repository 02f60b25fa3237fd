package config

import "testing"

func TestDefaultThresholds(t *testing.T) {
	cfg := Default()

	if cfg.Extraction.MapQualityCutoff != 20 {
		t.Errorf("MapQualityCutoff = %d, want 20", cfg.Extraction.MapQualityCutoff)
	}
	if cfg.Extraction.QualityCutoff != 20 {
		t.Errorf("QualityCutoff = %d, want 20", cfg.Extraction.QualityCutoff)
	}
	if cfg.Extraction.MaxAmbiguousFraction != 0.1 {
		t.Errorf("MaxAmbiguousFraction = %v, want 0.1", cfg.Extraction.MaxAmbiguousFraction)
	}
	if cfg.Extraction.BreadthThreshold != 0.875 {
		t.Errorf("BreadthThreshold = %v, want 0.875", cfg.Extraction.BreadthThreshold)
	}
	if cfg.Windows.Size != 300 || cfg.Windows.Stride != 30 {
		t.Errorf("window plan = %d/%d, want 300/30", cfg.Windows.Size, cfg.Windows.Stride)
	}
	if cfg.Windows.Stride%3 != 0 {
		t.Error("default stride is not a codon multiple")
	}
}

func TestMergeKeepsDefaultsForZeroValues(t *testing.T) {
	m := NewManager()
	m.merge(&Config{
		Windows: WindowsConfig{Size: 150},
		Pool:    PoolConfig{Replicas: 4},
	})

	cfg := m.Get()
	if cfg.Windows.Size != 150 {
		t.Errorf("Windows.Size = %d, want 150", cfg.Windows.Size)
	}
	if cfg.Windows.Stride != 30 {
		t.Errorf("Windows.Stride = %d, want default 30", cfg.Windows.Stride)
	}
	if cfg.Pool.Replicas != 4 {
		t.Errorf("Pool.Replicas = %d, want 4", cfg.Pool.Replicas)
	}
	if cfg.Extraction.MapQualityCutoff != 20 {
		t.Errorf("MapQualityCutoff = %d, want default 20", cfg.Extraction.MapQualityCutoff)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WINMSA_REPLICAS", "8")
	t.Setenv("WINMSA_OUT_DIR", "/data/windows")

	m := NewManager()
	m.loadEnv()

	cfg := m.Get()
	if cfg.Pool.Replicas != 8 {
		t.Errorf("Pool.Replicas = %d, want 8", cfg.Pool.Replicas)
	}
	if cfg.Output.Dir != "/data/windows" {
		t.Errorf("Output.Dir = %q, want /data/windows", cfg.Output.Dir)
	}
}
