package copilot

// Replies for successful commands.
const (
	textRegistered      = "Token 有效，註冊成功"
	textGroupRegistered = "用户具有有效 token，群组註冊成功"
	textGroupOnly       = "该命令仅在群组中有效"
	textSysMsgSet       = "輸入成功"
	textHistoryCleared  = "歷史訊息清除成功"
	textHistoryHeader   = "对话历史：\n"
)

// HelpText is the reply to /Help.
const HelpText = "指令：\n" +
	"/Reg + API Token\n👉 API Token 請先到 https://platform.openai.com/ 註冊登入後取得\n\n" +
	"/RegGroup\n👉 已注册的用户可以为其所在的群组注册，注册后群组中的人共用同一个 API Token 以及历史信息\n\n" +
	"/SysMsg + Prompt\n👉 Prompt 可以命令機器人扮演某個角色，例如：請你扮演擅長做總結的人\n\n" +
	"/History\n👉 打印当前对话中存储的历史内容\n\n" +
	"/Clear\n👉 這個指令能夠清除歷史訊息\n\n" +
	"/Image + Prompt\n👉 會調用 DALL∙E 2 Model，以文字生成圖像\n\n" +
	"/Chat + Prompt\n👉 調用 ChatGPT 以文字回覆\n\n" +
	"語音輸入\n👉 會調用 Whisper 模型，先將語音轉換成文字，再調用 ChatGPT 以文字回覆"
