package system

const (
	replyNoMembers         = "No members found in your data."
	replyMemberNotFound    = "Member `%s` not found."
	replyMemberExists      = "Member `%s` already exists."
	replyInvalidName       = "Member names cannot be empty."
	replyInvalidColor      = "Invalid color `%s`. Use six hex digits, for example #FF00FF."
	replySwitched          = "Switched to member: %s"
	replyProxyEnabled      = "Proxying is now enabled."
	replyProxyDisabled     = "Proxying is now disabled."
	replyDeleted           = "Successfully deleted member: %s"
	replyAdded             = "Successfully added member: %s with avatar: %s and color: %s"
	replyImported          = "Successfully imported %d new members and updated %d members."
	replyInvalidImport     = "Invalid system.json file. Please ensure it's correctly formatted."
	replyMissingImportFile = "Attach a file named system.json to import members."
	replyImportDownload    = "Could not download system.json. Please try again."
	replyEmptyRoster       = "You don't have any members in your system."
	replyNotSaved          = "Warning: your change is active but could not be saved."

	noAvatar = "None"
)
