package consts

const (
	PlatformRaydiumV4     = iota + 1 // 1
	PlatformRaydiumCLMM              // 2
	PlatformRaydiumCPMM              // 3
	PlatformPumpFun                  // 4
	PlatformPumpFunAMM               // 5
	PlatformMeteoraDLMM              // 6
	PlatformOrcaWhirlpool            // 7
	PlatformJupiter                  // 8
	PlatformGeneric                  // 9（未建模协议，仅凭启发式识别）
)

var PlatformNames = []string{
	"Unknown",       // 0 (保留)
	"RaydiumV4",     // 1
	"RaydiumCLMM",   // 2
	"RaydiumCPMM",   // 3
	"PumpFun",       // 4
	"PumpFunAMM",    // 5
	"MeteoraDLMM",   // 6
	"OrcaWhirlpool", // 7
	"Jupiter",       // 8
	"Generic",       // 9
}

func PlatformName(platform int) string {
	if platform >= 1 && platform < len(PlatformNames) {
		return PlatformNames[platform]
	}
	return PlatformNames[0] // Unknown
}
