package featureflag

type Flag string

const (
	FlagDisableWorldState               Flag = "DISABLE_WORLD_STATE"
	FlagDisableParticipantJoinBroadcast Flag = "DISABLE_PARTICIPANT_JOIN_BROADCAST"
	FlagDisableObjectAddBroadcast       Flag = "DISABLE_OBJECT_ADD_BROADCAST"
	FlagDisableObjectDeleteBroadcast    Flag = "DISABLE_OBJECT_DELETE_BROADCAST"
	FlagDisableObjectMoveBroadcast      Flag = "DISABLE_OBJECT_MOVE_BROADCAST"
	FlagEnableIndexDump                 Flag = "ENABLE_INDEX_DUMP"
)
