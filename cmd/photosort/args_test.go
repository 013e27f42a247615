package main

import "testing"

func TestParseRunArgs(t *testing.T) {
	ra, err := parseRunArgs([]string{
		"--source", "/in", "--dest=/out", "--workers=8", "--device=false", "--log-level", "debug", "--json", "--report", "r.json",
	})
	if err != nil {
		t.Fatalf("解析失败：%v", err)
	}
	if ra.Source != "/in" || ra.Dest != "/out" {
		t.Fatalf("source/dest 不符合预期：%+v", ra)
	}
	if !ra.WorkersSet || ra.Workers != 8 {
		t.Fatalf("workers 不符合预期：%+v", ra)
	}
	if !ra.UseDeviceSet || ra.UseDevice {
		t.Fatalf("--device=false 应显式关闭：%+v", ra)
	}
	if !ra.LogLevelSet || ra.LogLevel != "debug" {
		t.Fatalf("log-level 不符合预期：%+v", ra)
	}
	if !ra.JSON || ra.ReportPath != "r.json" {
		t.Fatalf("json/report 不符合预期：%+v", ra)
	}
}

func TestParseRunArgs_DeviceFlag(t *testing.T) {
	ra, err := parseRunArgs([]string{"--device"})
	if err != nil {
		t.Fatalf("解析失败：%v", err)
	}
	if !ra.UseDeviceSet || !ra.UseDevice {
		t.Fatalf("--device 应开启：%+v", ra)
	}

	ra, err = parseRunArgs(nil)
	if err != nil {
		t.Fatalf("解析失败：%v", err)
	}
	if ra.UseDeviceSet || ra.WorkersSet || ra.LogLevelSet {
		t.Fatalf("未指定的参数不应标记为 Set：%+v", ra)
	}
}

func TestParseRunArgs_Errors(t *testing.T) {
	cases := [][]string{
		{"--workers", "0"},
		{"--workers", "x"},
		{"--workers"},
		{"--device=maybe"},
		{"--log-level", "loud"},
		{"--report="},
		{"--unknown"},
		{"/some/dir"},
	}
	for _, args := range cases {
		if _, err := parseRunArgs(args); err == nil {
			t.Fatalf("期望解析失败：%v", args)
		}
	}
}
