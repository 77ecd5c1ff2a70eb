package transport

var (
	MeshAdvertisingDataLen  = meshAdvertisingDataLen
	LegacyAdvertisingMaxLen = legacyAdvertisingMaxLen
	MinMeshPayloadLen       = minMeshPayloadLen
	MaxMeshPayloadLen       = maxMeshPayloadLen
)
