package hub

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jmtrans/freightboard/request"
)

// Action is the closed set of inbound message kinds. Dispatch goes through
// an exhaustive handler table, not a string comparison chain.
type Action string

const (
	ActionPing            Action = "ping"
	ActionServerStatus    Action = "server_status"
	ActionAddRequest      Action = "add_request"
	ActionEditRequest     Action = "edit_request"
	ActionUpdateRequest   Action = "update_request"
	ActionDeleteRequest   Action = "delete_request"
	ActionSyncAll         Action = "sync_all"
	ActionStatusesSync    Action = "statuses_sync"
	ActionStatusesSetText Action = "statuses_set_text"
	ActionStatusesToggle  Action = "statuses_toggle_unloaded"
	ActionSetStatus       Action = "set_request_status"
	ActionRegister        Action = "register"
	ActionAuth            Action = "auth"
	ActionResumeSession   Action = "resume_session"
	ActionFile            Action = "file"
	ActionUploadFile      Action = "upload_file"
	ActionDownloadFile    Action = "download_file"
	ActionAddComment      Action = "add_comment"
	ActionLogout          Action = "logout"
)

// Ack statuses.
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusError   = "error"
	StatusOK      = "ok"
)

const msgInternalError = "💥 სერვერის შიდა შეცდომა"

type ack struct {
	Action  string `json:"action"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

type handlerFunc func(c *Conn, msg map[string]any) error

func (h *Hub) buildHandlers() map[Action]handlerFunc {
	return map[Action]handlerFunc{
		ActionPing:            h.handlePing,
		ActionServerStatus:    h.handleServerStatus,
		ActionAddRequest:      h.handleAddRequest,
		ActionEditRequest:     h.handleEditRequest,
		ActionUpdateRequest:   h.handleUpdateRequest,
		ActionDeleteRequest:   h.handleDeleteRequest,
		ActionSyncAll:         h.handleSyncAll,
		ActionStatusesSync:    h.handleStatusesSync,
		ActionStatusesSetText: h.handleStatusesSetText,
		ActionStatusesToggle:  h.handleStatusesToggle,
		ActionSetStatus:       h.handleSetRequestStatus,
		ActionRegister:        h.handleRegister,
		ActionAuth:            h.handleAuth,
		ActionResumeSession:   h.handleResumeSession,
		ActionFile:            h.handleFile,
		ActionUploadFile:      h.handleUploadFile,
		ActionDownloadFile:    h.handleDownloadFile,
		ActionAddComment:      h.handleAddComment,
		ActionLogout:          h.handleLogout,
	}
}

func (h *Hub) handlePing(c *Conn, _ map[string]any) error {
	c.reply(h, map[string]any{"action": "pong"})
	return nil
}

func (h *Hub) handleServerStatus(c *Conn, _ map[string]any) error {
	cfg, err := h.appCfg.All()
	if err != nil {
		h.logger.Error("hub: settings read failed", "error", err)
		cfg = map[string]string{}
	}
	c.reply(h, map[string]any{"action": "server_status", "status": "running", "settings": cfg})
	return nil
}

func (h *Hub) handleAddRequest(c *Conn, msg map[string]any) error {
	data := getMap(msg, "data")
	if data == nil {
		c.reply(h, ack{Action: "new_request", Status: StatusFail, Message: "Нет данных заявки"})
		return nil
	}

	saved, err := h.requests.Save(request.Document(data))
	if err != nil {
		h.logger.Error("hub: add_request save failed", "error", err)
		c.reply(h, ack{Action: "new_request", Status: StatusError, Message: "❌ განაცხადის დამატების შეცდომა"})
		return nil
	}

	c.reply(h, map[string]any{
		"action":  "new_request",
		"status":  StatusSuccess,
		"data":    saved,
		"message": "✅ განაცხადი წარმატებით დაემატა",
	})
	h.Broadcast(map[string]any{"action": "new_request", "data": saved}, c)

	if err := h.statuses.ReconcileFromRequest(saved); err != nil {
		h.logger.Error("hub: reconcile after add_request failed", "error", err)
	}
	h.BroadcastStatuses()
	return nil
}

func (h *Hub) handleEditRequest(c *Conn, msg map[string]any) error {
	data := getMap(msg, "data")
	rid, ok := request.CoerceID(msg["id"])
	if !ok || len(data) == 0 {
		c.reply(h, ack{Action: "edit_request", Status: StatusFail, Message: "Некорректный id заявки"})
		return nil
	}

	doc, err := h.requests.Get(rid)
	if err != nil {
		c.reply(h, ack{Action: "edit_request", Status: StatusFail, Message: "Заявка не найдена"})
		return nil
	}

	editor := getString(data, "last_editor")
	if editor == "" {
		editor = getString(msg, "last_editor")
	}
	if editor == "" {
		editor = getString(msg, "editor")
	}

	// Merge, but the stored id always wins over anything in the payload.
	delete(data, "id")
	for k, v := range data {
		doc[k] = v
	}
	doc["id"] = rid
	if editor != "" {
		doc["last_editor"] = editor
	}
	doc["last_edit_ts"] = time.Now().Format("2006-01-02 15:04:05")

	saved, err := h.requests.Save(doc)
	if err != nil {
		h.logger.Error("hub: edit_request save failed", "id", rid, "error", err)
		c.reply(h, ack{Action: "edit_request", Status: StatusError, Message: "Ошибка редактирования заявки"})
		return nil
	}

	c.reply(h, map[string]any{
		"action":  "edit_request",
		"status":  StatusSuccess,
		"id":      rid,
		"message": "Заявка успешно отредактирована",
	})
	h.Broadcast(map[string]any{"action": "request_updated", "data": saved}, nil)

	if err := h.statuses.ReconcileFromRequest(saved); err != nil {
		h.logger.Error("hub: reconcile after edit_request failed", "id", rid, "error", err)
	}
	h.BroadcastStatuses()
	return nil
}

func (h *Hub) handleUpdateRequest(c *Conn, msg map[string]any) error {
	data := getMap(msg, "data")
	if data == nil {
		c.reply(h, ack{Action: "update_request", Status: StatusError, Message: "Нет данных для обновления"})
		return nil
	}
	if _, ok := request.CoerceID(data["id"]); !ok {
		c.reply(h, ack{Action: "update_request", Status: StatusError, Message: "Нет данных для обновления"})
		return nil
	}

	saved, err := h.requests.Save(request.Document(data))
	if err != nil {
		h.logger.Error("hub: update_request save failed", "error", err)
		c.reply(h, ack{Action: "update_request", Status: StatusError, Message: "Ошибка при сохранении"})
		return nil
	}

	c.reply(h, ack{Action: "update_request", Status: StatusSuccess})
	h.Broadcast(map[string]any{"action": "request_updated", "data": saved}, nil)

	if err := h.statuses.ReconcileFromRequest(saved); err != nil {
		h.logger.Error("hub: reconcile after update_request failed", "error", err)
	}
	h.BroadcastStatuses()
	return nil
}

func (h *Hub) handleDeleteRequest(c *Conn, msg map[string]any) error {
	rid, ok := request.CoerceID(msg["id"])
	if !ok {
		c.reply(h, ack{Action: "response", Status: StatusFail, Message: "Некорректный id заявки"})
		return nil
	}
	if _, err := h.requests.Delete(rid); err != nil {
		h.logger.Error("hub: delete_request failed", "id", rid, "error", err)
		c.reply(h, ack{Action: "response", Status: StatusError, Message: "Ошибка удаления заявки"})
		return nil
	}
	h.Broadcast(map[string]any{"action": "trigger_sync"}, c)
	c.reply(h, ack{Action: "response", Status: StatusSuccess, Message: "Заявка удалена"})
	return nil
}

func (h *Hub) handleSyncAll(c *Conn, _ map[string]any) error {
	docs, err := h.requests.ListAll()
	if err != nil {
		return fmt.Errorf("sync_all: %w", err)
	}
	if docs == nil {
		docs = []request.Document{}
	}
	c.reply(h, map[string]any{"action": "sync_all", "data": docs})
	return nil
}

func (h *Hub) handleStatusesSync(c *Conn, _ map[string]any) error {
	rows, err := h.statuses.List()
	if err != nil {
		c.reply(h, ack{Action: "statuses_sync", Status: StatusError, Message: "Ошибка чтения статусов"})
		return nil
	}
	c.reply(h, map[string]any{"action": "statuses_sync", "data": rows})
	return nil
}

func (h *Hub) handleStatusesSetText(c *Conn, msg map[string]any) error {
	rid, ok := request.CoerceID(msg["request_id"])
	vehicle := getString(msg, "vehicle_number")
	if !ok || vehicle == "" {
		c.reply(h, ack{Action: "statuses_set_text", Status: StatusError, Message: "bad params"})
		return nil
	}
	if err := h.statuses.SetStatusText(rid, vehicle, getString(msg, "text")); err != nil {
		h.logger.Error("hub: statuses_set_text failed", "request_id", rid, "error", err)
		c.reply(h, ack{Action: "statuses_set_text", Status: StatusError, Message: "Ошибка сохранения статуса"})
		return nil
	}
	c.reply(h, ack{Action: "statuses_set_text", Status: StatusSuccess})
	h.BroadcastStatuses()
	return nil
}

func (h *Hub) handleStatusesToggle(c *Conn, msg map[string]any) error {
	rid, ok := request.CoerceID(msg["request_id"])
	vehicle := getString(msg, "vehicle_number")
	if !ok || vehicle == "" {
		c.reply(h, ack{Action: "statuses_toggle_unloaded", Status: StatusError, Message: "bad params"})
		return nil
	}

	var unloaded *bool
	if b, isBool := msg["unloaded"].(bool); isBool {
		unloaded = &b
	}
	var unloadDate *string
	if d := getString(msg, "unload_date"); d != "" {
		unloadDate = &d
	}

	if err := h.statuses.ToggleUnloaded(rid, vehicle, unloaded, unloadDate); err != nil {
		h.logger.Error("hub: toggle failed", "request_id", rid, "error", err)
		c.reply(h, ack{Action: "statuses_toggle_unloaded", Status: StatusError, Message: "Ошибка переключения"})
		return nil
	}
	c.reply(h, ack{Action: "statuses_toggle_unloaded", Status: StatusSuccess})

	// A vehicle just marked unloaded may complete the whole request.
	if unloaded != nil && *unloaded {
		if updated, closed := h.statuses.AutoCloseIfUnloaded(rid); closed {
			h.Broadcast(map[string]any{"action": "request_updated", "data": updated}, nil)
		}
	}
	h.BroadcastStatuses()
	return nil
}

func (h *Hub) handleSetRequestStatus(c *Conn, msg map[string]any) error {
	rid, ok := request.CoerceID(msg["id"])
	status := getString(msg, "status")
	if status == "" {
		status = getString(getMap(msg, "data"), "status")
	}
	if !ok || status == "" {
		c.reply(h, ack{Action: "request_updated", Status: StatusError, Message: "bad params"})
		return nil
	}

	// A fully unloaded request is closed no matter what the client asked.
	if h.statuses.AllUnloaded(rid) {
		status = "closed"
	}

	doc, err := h.requests.Get(rid)
	if err != nil {
		c.reply(h, ack{Action: "request_updated", Status: StatusFail, Message: "Заявка не найдена"})
		return nil
	}
	doc["status"] = status
	saved, err := h.requests.Save(doc)
	if err != nil {
		h.logger.Error("hub: set_request_status save failed", "id", rid, "error", err)
		c.reply(h, ack{Action: "request_updated", Status: StatusError, Message: "Ошибка сохранения статуса"})
		return nil
	}

	c.reply(h, ack{Action: "set_request_status", Status: StatusSuccess})
	h.Broadcast(map[string]any{"action": "request_updated", "data": saved}, nil)
	return nil
}

func (h *Hub) handleRegister(c *Conn, msg map[string]any) error {
	username := getString(msg, "username")
	password := getString(msg, "password")
	role := getString(msg, "role")
	if username == "" || password == "" {
		c.reply(h, ack{Action: "register", Status: StatusFail, Message: "❌ Необходимо указать логин и пароль"})
		return nil
	}
	if err := h.users.Register(username, password, role); err != nil {
		c.reply(h, ack{Action: "register", Status: StatusFail, Message: "❌ Этот пользователь уже существует или данные некорректны"})
		return nil
	}
	c.reply(h, ack{Action: "register", Status: StatusSuccess, Message: "✅ რეგისტრაცია წარმატებით შესრულდა"})
	return nil
}

func (h *Hub) handleAuth(c *Conn, msg map[string]any) error {
	user, err := h.users.Authenticate(getString(msg, "username"), getString(msg, "password"))
	if err != nil {
		c.reply(h, ack{Action: "auth", Status: StatusFail, Message: "❌ მომხმარებელი არ მოიძებნა ან პაროლი არასწორია"})
		return nil
	}
	// Advisory token: issued here, never checked on later actions.
	c.reply(h, map[string]any{
		"action":        "auth",
		"status":        StatusSuccess,
		"role":          user.Role,
		"username":      user.Username,
		"session_token": uuid.NewString(),
	})
	return nil
}

func (h *Hub) handleResumeSession(c *Conn, _ map[string]any) error {
	c.reply(h, ack{Action: "resume_session", Status: StatusSuccess})
	return nil
}

func (h *Hub) handleFile(c *Conn, msg map[string]any) error {
	rid, ok := request.CoerceID(msg["task_id"])
	filename := getString(msg, "filename")
	filedata := getString(msg, "filedata")
	if !ok || filename == "" || filedata == "" {
		c.reply(h, ack{Action: "file", Status: StatusFail, Message: "Некорректные параметры файла"})
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(filedata)
	if err != nil {
		c.reply(h, ack{Action: "file", Status: StatusFail, Message: "Файл повреждён"})
		return nil
	}
	if _, err := h.blobs.Put(strconv.FormatInt(rid, 10), filename, raw); err != nil {
		h.logger.Error("hub: file store failed", "id", rid, "error", err)
		c.reply(h, ack{Action: "file", Status: StatusError, Message: "Ошибка сохранения файла"})
		return nil
	}

	// Track the attachment name inside the request document.
	doc, err := h.requests.Get(rid)
	if err == nil {
		names, _ := doc["attachments"].([]any)
		found := false
		for _, n := range names {
			if n == filename {
				found = true
				break
			}
		}
		if !found {
			doc["attachments"] = append(names, filename)
		}
		if saved, err := h.requests.Save(doc); err == nil {
			h.Broadcast(map[string]any{"action": "request_updated", "data": saved}, nil)
		}
	}

	c.reply(h, ack{Action: "file", Status: StatusSuccess})
	return nil
}

func (h *Hub) handleUploadFile(c *Conn, msg map[string]any) error {
	rid, ok := request.CoerceID(msg["request_id"])
	filename := getString(msg, "filename")
	content := getString(msg, "content_base64")
	if !ok || filename == "" || content == "" {
		c.reply(h, ack{Action: "upload_file", Status: StatusError, Message: "Некорректные параметры для загрузки файла"})
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		c.reply(h, ack{Action: "upload_file", Status: StatusError, Message: "Файл повреждён"})
		return nil
	}
	url, err := h.blobs.Put(strconv.FormatInt(rid, 10), filename, raw)
	if err != nil {
		h.logger.Error("hub: upload_file store failed", "id", rid, "error", err)
		c.reply(h, ack{Action: "upload_file", Status: StatusError, Message: "Ошибка сохранения файла"})
		return nil
	}
	c.reply(h, map[string]any{
		"action": "upload_file",
		"status": StatusOK,
		"file":   map[string]any{"name": filename, "url": url},
	})
	return nil
}

func (h *Hub) handleDownloadFile(c *Conn, msg map[string]any) error {
	rid, ok := request.CoerceID(msg["task_id"])
	filename := getString(msg, "filename")
	if !ok || filename == "" {
		c.reply(h, map[string]any{"action": "download_file", "filename": filename, "filedata": nil, "error": "File not found"})
		return nil
	}
	data, err := h.blobs.Get(strconv.FormatInt(rid, 10), filename)
	if err != nil {
		c.reply(h, map[string]any{"action": "download_file", "filename": filename, "filedata": nil, "error": "File not found"})
		return nil
	}
	c.reply(h, map[string]any{
		"action":   "download_file",
		"filename": filename,
		"filedata": base64.StdEncoding.EncodeToString(data),
	})
	return nil
}

func (h *Hub) handleAddComment(c *Conn, msg map[string]any) error {
	rid, ok := request.CoerceID(msg["task_id"])
	comment, hasComment := msg["comment"]
	if !ok || !hasComment {
		c.reply(h, ack{Action: "add_comment", Status: StatusFail, Message: "Нет данных для комментария"})
		return nil
	}

	doc, err := h.requests.Get(rid)
	if err != nil {
		c.reply(h, ack{Action: "add_comment", Status: StatusFail, Message: "Заявка не найдена"})
		return nil
	}
	comments, _ := doc["comments"].([]any)
	doc["comments"] = append(comments, comment)
	if _, err := h.requests.Save(doc); err != nil {
		h.logger.Error("hub: add_comment save failed", "id", rid, "error", err)
		c.reply(h, ack{Action: "add_comment", Status: StatusError, Message: "Ошибка сохранения комментария"})
		return nil
	}

	c.reply(h, ack{Action: "add_comment", Status: StatusSuccess})
	h.Broadcast(map[string]any{"action": "add_comment", "task_id": rid, "comment": comment}, nil)
	return nil
}

func (h *Hub) handleLogout(c *Conn, _ map[string]any) error {
	c.reply(h, ack{Action: "logout", Status: StatusOK})
	c.ws.Close()
	return nil
}
