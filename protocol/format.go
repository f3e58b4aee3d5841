package protocol

import (
	"strings"
	"time"

	"linechat/models"
)

// TimeLayout is used for every timestamp shown to clients.
const TimeLayout = "2006-01-02 15:04:05"

// Reply texts shared by the dispatcher and tests.
const (
	MsgRegistered        = "Registration successful! Please login with '/login <username> <password>'."
	MsgRegisterFailed    = "Registration failed. Username may be taken."
	MsgLoginFailed       = "Login failed. Check your credentials."
	MsgLoginFirst        = "Please login first."
	MsgLoggedInElsewhere = "User is already logged in elsewhere."
	MsgUnknownCommand    = "Unknown command or invalid usage. Type '/help' for assistance."
	MsgNotInChat         = "You're not in a room or DM. Type '/back' to return to main menu."
	MsgGoodbye           = "You have been logged out. Goodbye!"
	MsgTooLong           = "Message too long."
	MsgTooFast           = "You are sending messages too fast."
	MsgInvalidEncoding   = "Messages must be valid UTF-8."
	MsgInternalError     = "Internal error."
	MsgIdleTimeout       = "Disconnected due to inactivity."
	MsgNoRoomHistory     = "No previous messages in this room."
	MsgNoDMHistory       = "No previous private messages."
	MsgChatPrompt        = "Type your message below. Or type '/back' to return to Main Menu."
)

// Header draws a boxed title.
func Header(title string) string {
	bar := "+" + strings.Repeat("-", len(title)+4) + "+"
	return bar + "\n|  " + title + "  |\n" + bar
}

func Welcome() string {
	return Header(" WELCOME TO THE CHAT ") + "\n" +
		"Type '/register <username> <password>' to create a new account.\n" +
		"Or '/login <username> <password>' if you already have an account."
}

func MainMenu() string {
	return Header(" MAIN MENU ") + "\n" +
		"Available commands:\n" +
		"  /join <room>       - Join or create a chat room\n" +
		"  /dm <username>     - Start a private chat\n" +
		"  /help              - Show command list again\n" +
		"  /back              - Return to this main menu\n" +
		"  /exit              - Logout from the chat\n" +
		"------------------------------------\n" +
		"Please type a command:"
}

func Help() string {
	return Header(" HELP MENU ") + "\n" +
		"Commands:\n" +
		"  /register <user> <pass> - Create an account\n" +
		"  /login <user> <pass>    - Log in\n" +
		"  /join <room>            - Join a chat room\n" +
		"  /dm <username>          - Start a private chat\n" +
		"  /back                   - Return to main menu\n" +
		"  /exit                   - Logout\n" +
		"------------------------------------"
}

func LoginOK(username string) string {
	return "Login successful! Welcome, " + username + "!"
}

func AlreadyLoggedIn(username string) string {
	return "Already logged in as " + username + "."
}

func JoinedRoom(room string) string {
	return "You have joined room: " + room + "\nFetching room history..."
}

func StartingDM(username string) string {
	return "Starting private chat with " + username + "...\nFetching private chat history..."
}

func UserNotFound(username string) string {
	return "User '" + username + "' not found."
}

func ShuttingDown(reason string) string {
	return "Server is shutting down: " + reason
}

// History renders entries one per line, or empty when there are none.
func History(entries []models.HistoryEntry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, "["+e.Timestamp.Format(TimeLayout)+"] "+e.Username+": "+e.Content)
	}
	return strings.Join(lines, "\n")
}

func RoomLine(ts time.Time, sender, room, text string) string {
	return "[" + ts.Format(TimeLayout) + "] " + sender + " (Room:" + room + "): " + text
}

func DMToLine(ts time.Time, peer, text string) string {
	return "[" + ts.Format(TimeLayout) + "] DM to " + peer + ": " + text
}

func DMFromLine(ts time.Time, sender, text string) string {
	return "[" + ts.Format(TimeLayout) + "] DM from " + sender + ": " + text
}
