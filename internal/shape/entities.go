package shape

// Column names shared across entities.
const (
	ColID         Column = "id"
	ColMainUserID Column = "main_user_id"
	ColPeerUserID Column = "peer_user_id"
	ColCreateDate Column = "create_date"
	ColImgFile    Column = "img_file_name"

	// users
	ColGmail      Column = "gmail"
	ColFirstName  Column = "first_name"
	ColLastName   Column = "last_name"
	ColLoginIP    Column = "login_ip"
	ColSecureKey  Column = "secure_key"
	ColLastUpdate Column = "last_update"

	// recipes
	ColName               Column = "name"
	ColTime               Column = "time"
	ColType               Column = "type"
	ColPrivate            Column = "private"
	ColIngredients        Column = "ingredients"
	ColHowToPrepare       Column = "how_to_prepare"
	ColOriginUserID       Column = "origin_user_id"
	ColOriginUserFullName Column = "origin_user_full_name"

	// users_messages_queue
	ColMessage Column = "message"

	// users_chats
	ColMessages       Column = "messages"
	ColLastChatUpdate Column = "last_chat_update"
)

func idCol() ColumnDef {
	return ColumnDef{Name: ColID, Kind: KindInt}
}

func createDateCol() ColumnDef {
	return ColumnDef{Name: ColCreateDate, Kind: KindTime}
}

// Identities is the users table. Its alternate unique key is gmail.
var Identities = newEntity("users", ColGmail,
	idCol(),
	ColumnDef{Name: ColGmail, Kind: KindText, Insertable: true, Required: true},
	ColumnDef{Name: ColFirstName, Kind: KindText, Insertable: true, Mutable: true, Required: true},
	ColumnDef{Name: ColLastName, Kind: KindText, Insertable: true, Mutable: true, Required: true},
	ColumnDef{Name: ColLoginIP, Kind: KindText, Insertable: true, Mutable: true, Required: true},
	ColumnDef{Name: ColSecureKey, Kind: KindText, Insertable: true, Mutable: true, Required: true},
	ColumnDef{Name: ColImgFile, Kind: KindText, Insertable: true, Mutable: true},
	ColumnDef{Name: ColLastUpdate, Kind: KindTime, Mutable: true},
	createDateCol(),
)

// Recipes is the recipes table, owned through main_user_id.
var Recipes = newEntity("recipes", "",
	idCol(),
	ColumnDef{Name: ColName, Kind: KindText, Insertable: true, Mutable: true, Required: true},
	ColumnDef{Name: ColTime, Kind: KindText, Insertable: true, Mutable: true, Required: true},
	ColumnDef{Name: ColType, Kind: KindText, Insertable: true, Mutable: true, Required: true},
	ColumnDef{Name: ColPrivate, Kind: KindBool, Insertable: true, Mutable: true, Required: true},
	ColumnDef{Name: ColIngredients, Kind: KindTextList, Insertable: true, Mutable: true},
	ColumnDef{Name: ColHowToPrepare, Kind: KindTextList, Insertable: true, Mutable: true},
	ColumnDef{Name: ColMainUserID, Kind: KindInt, Insertable: true, Required: true},
	ColumnDef{Name: ColOriginUserID, Kind: KindInt, Insertable: true, Required: true},
	ColumnDef{Name: ColOriginUserFullName, Kind: KindText, Insertable: true, Required: true},
	ColumnDef{Name: ColImgFile, Kind: KindText, Insertable: true, Mutable: true},
	createDateCol(),
)

func edgeEntity(table string) *Entity {
	return newEntity(table, "",
		idCol(),
		ColumnDef{Name: ColMainUserID, Kind: KindInt, Insertable: true, Required: true},
		ColumnDef{Name: ColPeerUserID, Kind: KindInt, Insertable: true, Required: true},
		createDateCol(),
	)
}

// Relationship edge tables. All three share one shape.
var (
	Friends  = edgeEntity("users_friends")
	Blocks   = edgeEntity("users_blocks")
	Requests = edgeEntity("users_requests")
)

// Mailbox is the offline message queue. main_user_id is the sender and
// peer_user_id the recipient.
var Mailbox = newEntity("users_messages_queue", "",
	idCol(),
	ColumnDef{Name: ColMainUserID, Kind: KindInt, Insertable: true, Required: true},
	ColumnDef{Name: ColPeerUserID, Kind: KindInt, Insertable: true, Required: true},
	ColumnDef{Name: ColMessage, Kind: KindText, Insertable: true, Required: true},
	createDateCol(),
)

// Chats holds one row per conversation pair.
var Chats = newEntity("users_chats", "",
	idCol(),
	ColumnDef{Name: ColMainUserID, Kind: KindInt, Insertable: true, Required: true},
	ColumnDef{Name: ColPeerUserID, Kind: KindInt, Insertable: true, Required: true},
	ColumnDef{Name: ColMessages, Kind: KindTextList, Insertable: true, Mutable: true},
	ColumnDef{Name: ColLastChatUpdate, Kind: KindTime, Insertable: true, Mutable: true},
)
